package main

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeSyntheticData writes a CSV with two informative continuous columns,
// one categorical column and a separable binary label.
func writeSyntheticData(t *testing.T, path string, rows int, seed int64) {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	var b strings.Builder
	b.WriteString("x1,x2,group,label\n")
	groups := []string{"a", "b", "c"}
	for i := 0; i < rows; i++ {
		x1 := rnd.Float64()
		x2 := rnd.Float64()
		label := "neg"
		if x1+x2 > 1.0 {
			label = "pos"
		}
		fmt.Fprintf(&b, "%.4f,%.4f,%s,%s\n", x1, x2, groups[i%len(groups)], label)
	}
	require.NoError(t, ioutil.WriteFile(path, []byte(b.String()), 0644))
}

func TestTrainAndEvaluate(t *testing.T) {
	dir := t.TempDir()
	trainFile := filepath.Join(dir, "train.csv")
	testFile := filepath.Join(dir, "test.csv")
	modelFile := filepath.Join(dir, "trained.model")
	predictionsFile := filepath.Join(dir, "predictions.csv")

	writeSyntheticData(t, trainFile, 64, 1)
	writeSyntheticData(t, testFile, 16, 2)

	trainCmd := TrainCommand()
	trainCmd.SetArgs([]string{
		"-i", trainFile,
		"-o", modelFile,
		"-t", "label",
		"--categorical-columns", "group",
		"--categorical-embedding-size", "2",
		"--architecture", "node",
		"--num-layers", "1",
		"--num-trees", "2",
		"--tree-depth", "2",
		"--num-epochs", "2",
		"--batch-size", "8",
	})
	require.NoError(t, trainCmd.Execute())

	info, err := os.Stat(modelFile)
	require.NoError(t, err)
	require.True(t, info.Size() > 0)

	testCmd := TestCommand()
	testCmd.SetArgs([]string{
		"-m", modelFile,
		"-i", testFile,
		"-o", predictionsFile,
	})
	require.NoError(t, testCmd.Execute())

	predictions, err := ioutil.ReadFile(predictionsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(predictions)), "\n")
	require.Len(t, lines, 16)
	for _, line := range lines {
		require.Len(t, strings.Split(line, ","), 3)
	}
}

func TestTrainRejectsUnknownArchitecture(t *testing.T) {
	dir := t.TempDir()
	trainFile := filepath.Join(dir, "train.csv")
	writeSyntheticData(t, trainFile, 8, 3)

	trainCmd := TrainCommand()
	trainCmd.SetArgs([]string{
		"-i", trainFile,
		"-o", filepath.Join(dir, "out.model"),
		"-t", "label",
		"--architecture", "perceptron",
	})
	require.Error(t, trainCmd.Execute())
}
