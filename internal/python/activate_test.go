package python

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivationLine(t *testing.T) {
	assert.Equal(t, "source myenv/bin/activate", ActivationLine("linux", "venv", "myenv"))
	assert.Equal(t, "source 'my env/bin/activate'", ActivationLine("darwin", "venv", "my env"))
	assert.Equal(t, "call "+filepath.Join("myenv", "Scripts", "activate.bat"), ActivationLine("windows", "venv", "myenv"))
	assert.Equal(t, "conda activate torch", ActivationLine("linux", "conda", "torch"))
}

func TestActivationLineQuotesWindowsPaths(t *testing.T) {
	script := filepath.Join(`C:\Users\Jane Doe\ai`, "my env", "Scripts", "activate.bat")
	assert.Equal(t, `call "`+filepath.Join("my env", "Scripts", "activate.bat")+`"`, ActivationLine("windows", "venv", "my env"))
	assert.Equal(t, `"`+script+`"`, shellQuote("windows", script))
	assert.Equal(t, `conda activate "ml (gpu)"`, ActivationLine("windows", "conda", "ml (gpu)"))

	cmd := shellCommandFor("windows", "venv", "my env", `C:\work`)
	assert.Contains(t, cmd.Arguments[1], `call "`)
}

func TestActivationInstructions(t *testing.T) {
	md := activationInstructionsFor("linux", "conda", "torch")
	assert.Contains(t, md, "# Activate `torch`")
	assert.Contains(t, md, "```bash\nconda activate torch\n```")
	assert.Contains(t, md, "conda deactivate")

	md = activationInstructionsFor("windows", "venv", "myenv")
	assert.Contains(t, md, "```bat\n")
	assert.Contains(t, md, "`deactivate`")
}

func TestShellCommand(t *testing.T) {
	cmd := shellCommandFor("windows", "venv", "myenv", "C:/work")
	assert.Equal(t, "cmd.exe", cmd.Binary)
	assert.Equal(t, "/K", cmd.Arguments[0])
	assert.Contains(t, cmd.Arguments[1], "where python && python --version")

	cmd = shellCommandFor("linux", "conda", "torch", "/work")
	assert.Equal(t, "bash", cmd.Binary)
	assert.Equal(t, "-c", cmd.Arguments[0])
	assert.Contains(t, cmd.Arguments[1], "conda shell.bash hook")
	assert.Contains(t, cmd.Arguments[1], "conda activate torch")
	assert.Equal(t, "/work", cmd.WorkingDirectory)
}
