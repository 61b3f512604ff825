package xferfiletest

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/derektruong/rxfer/internal/xferfile"
	"github.com/derektruong/rxfer/state"
)

// extensions are the extensions a generated key can carry, none of them
// reserved for sidecar files.
var extensions = []string{"bin", "csv", "mp4", "pdf", "tar", "zip"}

// InfoFactory returns a random session Info with editFn applied. Its Key is
// always a valid object key.
func InfoFactory(editFn func(info *xferfile.Info)) (info xferfile.Info) {
	name := strings.ToLower(gofakeit.LetterN(8))
	ext := gofakeit.RandomString(extensions)
	stored := uint64(gofakeit.Number(1, 1000000))
	info = xferfile.Info{
		SessionID:  gofakeit.UUID(),
		Key:        fmt.Sprintf("%s/%s.%s", strings.ToLower(gofakeit.LetterN(6)), name, ext),
		Name:       name,
		Extension:  ext,
		StartTime:  gofakeit.PastDate(),
		UpdateTime: gofakeit.PastDate(),
		Ranges:     state.RangeSet{{Start: 0, End: stored}},
		Metadata: map[string]string{
			"multipartID": gofakeit.UUID(),
		},
	}
	if editFn != nil {
		editFn(&info)
	}
	return
}
