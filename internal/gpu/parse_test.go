package gpu

import (
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var observed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse_SingleLine(t *testing.T) {
	samples, err := Parse("0,45,2048,8192,62,120.5,1234:train.py:1500", "gpu1", observed)
	require.NoError(t, err)
	require.Len(t, samples, 1)

	assert.Equal(t, Sample{
		Host:           "gpu1",
		Timestamp:      observed,
		GPUIndex:       0,
		UtilizationPct: 45,
		MemoryUsedMB:   2048,
		MemoryTotalMB:  8192,
		TemperatureC:   62,
		PowerDrawW:     120.5,
		Processes:      []Process{{PID: 1234, Name: "train.py", MemoryMB: 1500}},
	}, samples[0])
}

func TestParse_MultipleGPUs(t *testing.T) {
	raw := "0, 45, 2048, 8192, 62, 120.5, 1234:train.py:1500;99:python -m x:10\r\n" +
		"1, 0, 0, 8192, 30, 20.00, \n" +
		"\n"

	samples, err := Parse(raw, "gpu1", observed)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, 0, samples[0].GPUIndex)
	assert.Equal(t, []Process{
		{PID: 1234, Name: "train.py", MemoryMB: 1500},
		{PID: 99, Name: "python -m x", MemoryMB: 10},
	}, samples[0].Processes)

	assert.Equal(t, 1, samples[1].GPUIndex)
	assert.Empty(t, samples[1].Processes)
	assert.Equal(t, 20.0, samples[1].PowerDrawW)
}

func TestParse_ProcessNameWithColons(t *testing.T) {
	samples, err := Parse("0,1,1,1,1,1,42:/opt/app:v2:worker:512", "h", observed)
	require.NoError(t, err)
	assert.Equal(t, []Process{{PID: 42, Name: "/opt/app:v2:worker", MemoryMB: 512}}, samples[0].Processes)
}

func TestParse_Empty(t *testing.T) {
	for _, raw := range []string{"", "\n\n", "  \r\n"} {
		samples, err := Parse(raw, "h", observed)
		require.NoError(t, err)
		assert.Empty(t, samples)
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"too few fields", "0,45,2048,8192,62,120.5", "expected 7 fields, got 6"},
		{"too many fields", "0,45,2048,8192,62,120.5,,x", "expected 7 fields, got 8"},
		{"utilization over 100", "0,101,2048,8192,62,120.5,", "utilization 101 out of range"},
		{"negative utilization", "0,-1,2048,8192,62,120.5,", "utilization -1 out of range"},
		{"negative memory", "0,45,-5,8192,62,120.5,", "memory used -5 is negative"},
		{"negative power", "0,45,1,8192,62,-3.5,", "power -3.5 is negative"},
		{"N/A power", "0,45,1,8192,62,[N/A],", `power "[N/A]" is not a number`},
		{"non-numeric temp", "0,45,1,8192,hot,1,", `temperature "hot" is not an integer`},
		{"negative index", "-1,45,1,8192,60,1,", "index -1 out of range"},
		{"process missing name", "0,45,1,8192,60,1,1234:1500", "not pid:name:memory"},
		{"process bad pid", "0,45,1,8192,60,1,abc:x:1", "bad pid"},
		{"process bad memory", "0,45,1,8192,60,1,1:x:lots", "bad memory"},
		{"process empty entry", "0,45,1,8192,60,1,1:x:1;", "not pid:name:memory"},
		{"duplicate index", "0,45,1,8192,60,1,\n0,45,1,8192,60,1,", "GPU index 0 already reported on line 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := Parse(tt.raw, "gpu1", observed)
			require.Error(t, err)
			assert.Nil(t, samples)
			assert.Equal(t, errors.ErrParse, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_OneBadLineFailsAll(t *testing.T) {
	raw := "0,45,2048,8192,62,120.5,\n1,45,2048,8192,62,garbage,\n"
	samples, err := Parse(raw, "gpu1", observed)
	require.Error(t, err)
	assert.Nil(t, samples)
	assert.Contains(t, err.Error(), "line 2")
}

func TestSampleHelpers(t *testing.T) {
	s := Sample{MemoryUsedMB: 2048, MemoryTotalMB: 8192, Processes: []Process{{MemoryMB: 100}, {MemoryMB: 28}}}
	assert.InDelta(t, 25.0, s.MemoryPct(), 0.001)
	assert.Equal(t, int64(128), s.ProcessMemoryMB())
	assert.Equal(t, 0.0, Sample{}.MemoryPct())
}

// fakeNvidiaSMI answers the two queries MetricsCommand makes.
const fakeNvidiaSMI = `#!/bin/sh
if [ -n "$FAKE_SMI_FAIL" ]; then
  echo "NVIDIA-SMI has failed because it couldn't communicate with the NVIDIA driver" >&2
  exit 9
fi
case "$1" in
  --query-compute-apps=*)
    printf 'GPU-aaa, 1234, python train.py, 1500\n'
    printf 'GPU-aaa, 99, /usr/bin/x:y, 10\n'
    printf 'GPU-bbb, 77, a, b; c, [N/A]\n'
    ;;
  --query-gpu=*)
    printf '0, GPU-aaa, 45, 2048, 8192, 62, 120.5\n'
    printf '1, GPU-bbb, 0, 0, 8192, 30, 20.00\n'
    printf '2, GPU-ccc, 5, 1, 8192, 31, 21.00\n'
    ;;
esac
`

func runMetricsCommand(t *testing.T, env ...string) (string, error) {
	t.Helper()
	for _, bin := range []string{"sh", "awk"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nvidia-smi"), []byte(fakeNvidiaSMI), 0o755))

	cmd := exec.Command("sh", "-c", MetricsCommand())
	cmd.Env = append(os.Environ(), "PATH="+dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	cmd.Env = append(cmd.Env, env...)
	out, err := cmd.Output()
	return string(out), err
}

func TestMetricsCommand_JoinsProcessesByUUID(t *testing.T) {
	out, err := runMetricsCommand(t)
	require.NoError(t, err)

	samples, err := Parse(out, "gpu1", observed)
	require.NoError(t, err, "output was:\n%s", out)
	require.Len(t, samples, 3)

	assert.Equal(t, []Process{
		{PID: 1234, Name: "python train.py", MemoryMB: 1500},
		{PID: 99, Name: "/usr/bin/x:y", MemoryMB: 10},
	}, samples[0].Processes)
	assert.Equal(t, 45, samples[0].UtilizationPct)
	assert.Equal(t, 120.5, samples[0].PowerDrawW)

	require.Len(t, samples[1].Processes, 1)
	assert.Equal(t, 77, samples[1].Processes[0].PID)
	assert.Equal(t, int64(0), samples[1].Processes[0].MemoryMB)
	assert.NotContains(t, samples[1].Processes[0].Name, ";")

	assert.Equal(t, 2, samples[2].GPUIndex)
	assert.Empty(t, samples[2].Processes)
}

func TestMetricsCommand_PropagatesFailure(t *testing.T) {
	_, err := runMetricsCommand(t, "FAKE_SMI_FAIL=1")
	require.Error(t, err)

	var exitErr *exec.ExitError
	require.True(t, stderrors.As(err, &exitErr))
	assert.Equal(t, 9, exitErr.ExitCode())
}
