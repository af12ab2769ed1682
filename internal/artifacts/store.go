// Package artifacts хранит файлы обученных моделей: локальная папка или S3.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var ErrNotFound = errors.New("artifact not found")

// Staged записанный, но еще не опубликованный артефакт
type Staged interface {
	Name() string
	Location() string
	Commit(ctx context.Context) error
	Discard() error
}

type Store interface {
	// Stage пишет артефакт во временное место; до Commit он не виден через Open
	Stage(ctx context.Context, name string, write func(io.Writer) error) (Staged, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

const (
	modelPrefix = "model_cnn_lstm_v"
	ModelExt    = ".gob"
)

var modelNameRe = regexp.MustCompile(`^model_cnn_lstm_v(\d+)_(\d+)(\.gob)?$`)

// ModelName имя модели для версии "MAJOR.MINOR": model_cnn_lstm_v1_6
func ModelName(version string) (string, error) {
	major, minor, err := SplitVersion(version)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d_%d", modelPrefix, major, minor), nil
}

// ModelFileName имя файла артефакта в хранилище
func ModelFileName(version string) (string, error) {
	name, err := ModelName(version)
	if err != nil {
		return "", err
	}
	return name + ModelExt, nil
}

// VersionFromName извлекает версию из имени модели, расширение необязательно
func VersionFromName(name string) (string, bool) {
	m := modelNameRe.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return "", false
	}
	return m[1] + "." + m[2], true
}

func SplitVersion(version string) (int, int, error) {
	majorStr, minorStr, ok := strings.Cut(version, ".")
	if !ok {
		return 0, 0, fmt.Errorf("malformed version %q", version)
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return 0, 0, fmt.Errorf("malformed version %q", version)
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil || minor < 0 {
		return 0, 0, fmt.Errorf("malformed version %q", version)
	}
	return major, minor, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
