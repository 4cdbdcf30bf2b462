package dataset

import "path/filepath"

// File names of the train/test split, shared by the stage that writes them
// and the stage that trains on them.
const (
	XTrainFile = "X_train.csv"
	XTestFile  = "X_test.csv"
	YTrainFile = "y_train.csv"
	YTestFile  = "y_test.csv"
)

// SplitFiles lists the split files in the order they are written.
var SplitFiles = []string{XTrainFile, XTestFile, YTrainFile, YTestFile}

// SplitPaths returns the split file paths inside dir keyed by file name.
func SplitPaths(dir string) map[string]string {
	out := make(map[string]string, len(SplitFiles))
	for _, name := range SplitFiles {
		out[name] = filepath.Join(dir, name)
	}
	return out
}
