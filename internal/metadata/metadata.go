// Package metadata parses call details out of recording filenames of the
// form YYYYMMDD_HHMMSS<min>m<sec>s_<phone>_<status>_<agent>.<ext>.
package metadata

import (
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

var filenamePattern = regexp.MustCompile(`^(\d{8})_(\d{6})(\d+)m(\d+)s_([^_]+)_([^_]+)_(.+)\.[^.]+$`)

// Parse returns the metadata encoded in filename and whether it matched.
func Parse(filename string) (types.Metadata, bool) {
	m := filenamePattern.FindStringSubmatch(filepath.Base(filename))
	if m == nil {
		return types.Metadata{}, false
	}
	at, err := time.Parse("20060102150405", m[1]+m[2])
	if err != nil {
		return types.Metadata{}, false
	}
	mins, err1 := strconv.Atoi(m[3])
	secs, err2 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil {
		return types.Metadata{}, false
	}
	est := mins*60 + secs
	return types.Metadata{
		CallDate:                 at.Format("2006-01-02"),
		CallTime:                 at.Format("15:04:05"),
		CallDatetime:             at.Format("2006-01-02T15:04:05"),
		PhoneNumber:              m[5],
		CallStatus:               m[6],
		AgentName:                m[7],
		EstimatedDurationSeconds: &est,
	}, true
}

type Extractor struct {
	log *logrus.Entry
}

func NewExtractor(log *logrus.Entry) *Extractor {
	return &Extractor{log: logger.OrDiscard(log)}
}

// Extract never fails; a filename that does not match yields empty metadata.
func (e *Extractor) Extract(filename string) types.Metadata {
	md, ok := Parse(filename)
	if !ok {
		e.log.WithField("filename", filename).Warn("filename does not match expected pattern, metadata left empty")
	}
	return md
}
