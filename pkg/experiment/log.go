package experiment

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// FileResultLog appends results as JSON lines. One file per harness;
// rotation is left to the operator.
type FileResultLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewFileResultLog(path string) (*FileResultLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "create experiment log dir")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "open experiment log")
	}
	return &FileResultLog{file: file, enc: json.NewEncoder(file)}, nil
}

func (l *FileResultLog) Append(result Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(result); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "append experiment result")
	}
	return nil
}

func (l *FileResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
