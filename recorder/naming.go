package recorder

import (
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout formats the recording start time in file names.
const TimestampLayout = "2006.01.02_15-04-05"

var unsafeName = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// FileName returns TK_<user>_<YYYY.MM.DD_HH-MM-SS><ext>.
func FileName(user string, startedAt time.Time, ext string) string {
	return "TK_" + unsafeName.Replace(user) + "_" + startedAt.Format(TimestampLayout) + ext
}

// OutputPath joins dir and FileName.
func OutputPath(dir, user string, startedAt time.Time, ext string) string {
	return filepath.Join(dir, FileName(user, startedAt, ext))
}
