package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSTM = `
name "sys1"
direction "z"
tx_height 30
tx_roll 0
tx_pitch 0
tx_yaw 0
txrx_dx 0
txrx_dy 0
txrx_dz 2
rx_roll 0
rx_pitch 0
rx_yaw 0
times 2 1e-5 2e-5
`

const testPriorYAML = `
default:
  vmin: -3.0
  vmax: 3.0
`

func writeRunFixture(t *testing.T, npoints int) (stm, priorFile, obs string) {
	t.Helper()
	dir := t.TempDir()

	stm = filepath.Join(dir, "sys1.stm")
	require.NoError(t, os.WriteFile(stm, []byte(testSTM), 0o644))

	priorFile = filepath.Join(dir, "prior.yaml")
	require.NoError(t, os.WriteFile(priorFile, []byte(testPriorYAML), 0o644))

	var buf bytes.Buffer
	for p := 0; p < npoints; p++ {
		fmt.Fprintf(&buf, "0 0 0 0 0 0 0 0 0 0 1 2 2 %g %g\n", 0.1*float64(p), 0.2*float64(p))
	}
	obs = filepath.Join(dir, "obs.txt")
	require.NoError(t, os.WriteFile(obs, buf.Bytes(), 0o644))
	return stm, priorFile, obs
}

func TestRunCompletesASingleReplicaRunAndWritesOutputs(t *testing.T) {
	stm, priorFile, obs := writeRunFixture(t, 2)
	outPrefix := filepath.Join(t.TempDir(), "run")

	args := []string{"aeminvert",
		"-input", obs, "-stm", stm, "-prior-file", priorFile, "-output", outPrefix,
		"-degree-depth", "2", "-degree-lateral", "1", "-depth", "100",
		"-total", "20", "-seed", "1", "-kmax", "8",
		"-birth-probability", "0.2",
		"-wavelet-vertical", "haar", "-wavelet-horizontal", "haar",
		"-chains", "1", "-temperatures", "1", "-max-temperature", "1", "-exchange-rate", "10",
		"-lambda-std", "0.1", "-prior-std", "0.1",
	}

	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	require.FileExists(t, outPrefix+"-final_model.txt")
	require.FileExists(t, outPrefix+"-khistogram.txt")
	require.FileExists(t, outPrefix+"-000-ch.dat")
	require.FileExists(t, outPrefix+"-000-residuals.txt")
	require.FileExists(t, outPrefix+"-000-residuals_normed.txt")
	require.FileExists(t, outPrefix+"-log.txt")
	require.NoFileExists(t, outPrefix+"-acceptance.txt") // single replica: no PT ladder

	khist, err := os.ReadFile(outPrefix + "-khistogram.txt")
	require.NoError(t, err)
	require.NotEmpty(t, khist)
}

func TestRunCompletesAMultiReplicaPTRunAndWritesAcceptance(t *testing.T) {
	stm, priorFile, obs := writeRunFixture(t, 2)
	outPrefix := filepath.Join(t.TempDir(), "run")

	args := []string{"aeminvert",
		"-input", obs, "-stm", stm, "-prior-file", priorFile, "-output", outPrefix,
		"-degree-depth", "2", "-degree-lateral", "1", "-depth", "100",
		"-total", "20", "-seed", "1", "-kmax", "8",
		"-birth-probability", "0.2",
		"-wavelet-vertical", "haar", "-wavelet-horizontal", "haar",
		"-chains", "2", "-temperatures", "2", "-max-temperature", "10", "-exchange-rate", "5",
		"-lambda-std", "0.1", "-prior-std", "0.1",
		"-resample", "-resample-temperature", "1",
	}

	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	require.FileExists(t, outPrefix+"-acceptance.txt")
	for i := 0; i < 4; i++ {
		require.FileExists(t, fmt.Sprintf("%s-%03d-ch.dat", outPrefix, i))
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"aeminvert", "-input", "obs.txt"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "missing required flags")
}

func TestRunReportsIOCategoryForUnreadableSTM(t *testing.T) {
	_, priorFile, obs := writeRunFixture(t, 2)
	outPrefix := filepath.Join(t.TempDir(), "run")

	args := []string{"aeminvert",
		"-input", obs, "-stm", filepath.Join(t.TempDir(), "missing.stm"), "-prior-file", priorFile, "-output", outPrefix,
		"-degree-depth", "2", "-degree-lateral", "1", "-depth", "100",
		"-total", "20", "-seed", "1", "-kmax", "8",
	}

	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.FileExists(t, outPrefix+"-log.txt")
	logText, err := os.ReadFile(outPrefix + "-log.txt")
	require.NoError(t, err)
	require.Contains(t, string(logText), "category=io")
}
