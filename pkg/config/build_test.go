package config

import (
	"bytes"
	"context"
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

func writeTestRunFiles(t *testing.T, npoints int) (stm, priorFile, obs string) {
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

func TestBuildAssemblesASingleReplicaRun(t *testing.T) {
	stm, priorFile, obs := writeTestRunFiles(t, 2) // degree-lateral=1 -> width=2

	f := &Flags{
		Input: obs, STM: []string{stm}, PriorFile: priorFile, Output: filepath.Join(t.TempDir(), "run"),
		DegreeDepth: 2, DegreeLateral: 1, Depth: 100,
		Total: 100, Seed: 1, Kmax: 8,
		BirthProbability:  0.2,
		WaveletVertical:   "haar",
		WaveletHorizontal: "haar",
		Chains:            1, Temperatures: 1, MaxTemperature: 1, ExchangeRate: 10,
		LambdaStd: 0.1, PriorStd: 0.1,
	}

	setup, err := Build(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, setup.Replicas, 1)
	require.Equal(t, 2, setup.NPoints)
	require.Equal(t, 4, setup.Registry.NWindows()*setup.NPoints) // 2 windows * 2 points

	rep := setup.Replicas[0]
	require.True(t, rep.State.ResidualsValid)
	require.Equal(t, 1.0, rep.State.Temperature)
}

func TestBuildAssemblesMultiReplicaPTRun(t *testing.T) {
	stm, priorFile, obs := writeTestRunFiles(t, 2)

	f := &Flags{
		Input: obs, STM: []string{stm}, PriorFile: priorFile, Output: filepath.Join(t.TempDir(), "run"),
		DegreeDepth: 2, DegreeLateral: 1, Depth: 100,
		Total: 100, Seed: 1, Kmax: 8,
		BirthProbability:  0.2,
		WaveletVertical:   "haar",
		WaveletHorizontal: "haar",
		Chains:            2, Temperatures: 2, MaxTemperature: 10, ExchangeRate: 5,
		LambdaStd: 0.1, PriorStd: 0.1,
	}

	setup, err := Build(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, setup.Replicas, 4)
	require.Len(t, setup.Temperatures, 2)
	require.InDelta(t, 1.0, setup.Temperatures[0], 1e-9)
	require.InDelta(t, 10.0, setup.Temperatures[1], 1e-9)

	for i, rep := range setup.Replicas {
		wantLevel := i / f.Chains
		require.Equal(t, wantLevel, rep.Level)
		require.InDelta(t, setup.Temperatures[wantLevel], rep.State.Temperature, 1e-9)
	}
}

func TestBuildRejectsPointCountMismatch(t *testing.T) {
	stm, priorFile, obs := writeTestRunFiles(t, 3) // 3 points but degree-lateral=1 -> width 2

	f := &Flags{
		Input: obs, STM: []string{stm}, PriorFile: priorFile, Output: filepath.Join(t.TempDir(), "run"),
		DegreeDepth: 2, DegreeLateral: 1, Depth: 100,
		Total: 100, Seed: 1, Kmax: 8,
		BirthProbability:  0.2,
		WaveletVertical:   "haar",
		WaveletHorizontal: "haar",
		Chains:            1, Temperatures: 1, MaxTemperature: 1, ExchangeRate: 10,
		LambdaStd: 0.1, PriorStd: 0.1,
	}

	_, err := Build(context.Background(), f)
	require.Error(t, err)
}
