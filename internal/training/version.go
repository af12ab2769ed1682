package training

import (
	"errors"
	"fmt"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
)

var ErrVersionConflict = errors.New("model version already exists")

// NextVersion MAJOR.(максимальный minor + 1) среди версий той же серии MAJOR.
// Некорректные версии и другие серии игнорируются.
func NextVersion(existing []string, major int) string {
	maxMinor := 0
	for _, v := range existing {
		m, minor, err := artifacts.SplitVersion(v)
		if err != nil || m != major {
			continue
		}
		if minor > maxMinor {
			maxMinor = minor
		}
	}
	return fmt.Sprintf("%d.%d", major, maxMinor+1)
}
