package rxfer

import (
	"os"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
)

var _ = Describe("FileRule", func() {
	const filePath = "/Path1/Đường dẫn 2/path-3/Tên file.MOV"

	var (
		rule     *fileRule
		fileInfo os.FileInfo
	)

	BeforeEach(func() {
		rule = &fileRule{}
		fs := afero.NewMemMapFs()
		Expect(afero.WriteFile(fs, filePath, make([]byte, 2048), 0644)).To(Succeed())
		modTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(fs.Chtimes(filePath, modTime, modTime)).To(Succeed())

		var err error
		fileInfo, err = fs.Stat(filePath)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should return error when file size exceeds the maximum allowed size", func() {
		rule.MaxFileSize = 1024
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrMaxFileSizeExceeded(rule.MaxFileSize, fileInfo.Size())))
	})

	It("should return error when file size does not meet the minimum required size", func() {
		rule.MinFileSize = 4096
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrMinFileSizeNotMet(rule.MinFileSize, fileInfo.Size())))
	})

	It("should return error when file extension is not allowed", func() {
		rule.ExtensionWhitelist = []string{"mp4"}
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrExtensionNotAllowed("mov")))
	})

	It("should compare extensions case-insensitively and without leading dot", func() {
		rule.ExtensionWhitelist = []string{".Mov"}
		Expect(rule.Check(filePath, fileInfo)).To(Succeed())
	})

	It("should return error when file extension is blocked", func() {
		rule.ExtensionBlacklist = []string{"mov", "mp4"}
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrExtensionBlocked("mov")))
	})

	It("should return error when file was modified before the required time", func() {
		rule.ModifiedAfter = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrModifiedAfter(rule.ModifiedAfter)))
	})

	It("should return error when file was modified after the required time", func() {
		rule.ModifiedBefore = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrModifiedBefore(rule.ModifiedBefore)))
	})

	It("should return error when file name does not match the required pattern", func() {
		rule.FileNamePattern = regexp.MustCompile(`^abc$`)
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(MatchError(ErrFileNamePatternMismatch(rule.FileNamePattern.String())))
	})

	It("should match the pattern against the base name", func() {
		rule.FileNamePattern = regexp.MustCompile(`^Tên file\.MOV$`)
		Expect(rule.Check(filePath, fileInfo)).To(Succeed())
	})

	It("should return nil when all checks pass", func() {
		err := rule.Check(filePath, fileInfo)
		Expect(err).To(BeNil())
	})
})
