package oracle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// #region file
// FileOracle replays stored responses. The reply to a prompt is the file
// <Dir>/<reference env>_<metric>.txt, both read from the prompt header.
type FileOracle struct {
	Dir string
}

// Complete reads the stored response for the prompt's reference and metric.
// A missing file yields empty text, which the parser rejects.
func (f FileOracle) Complete(ctx context.Context, _, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, metric, ok := ParsePromptHeader(user)
	if !ok {
		return "", errors.New("prompt carries no reference environment or KPM line")
	}
	path := filepath.Join(f.Dir, ref+"_"+metric+".txt")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read stored response: %w", err)
	}
	return string(data), nil
}

// #endregion file
