package xferfile_test

import (
	"encoding/json"

	"github.com/derektruong/rxfer/internal/xferfile"
	"github.com/derektruong/rxfer/internal/xferfile/xferfiletest"
	"github.com/derektruong/rxfer/state"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Info", func() {
	Describe("NewInfo", func() {
		It("should start a session with a fresh ID", func() {
			first, err := xferfile.NewInfo("sample-prefix/sample-object.txt")
			Expect(err).ToNot(HaveOccurred())
			second, err := xferfile.NewInfo("sample-prefix/sample-object.txt")
			Expect(err).ToNot(HaveOccurred())

			Expect(first.SessionID).ToNot(BeEmpty())
			Expect(first.SessionID).ToNot(Equal(second.SessionID))
			Expect(first.Name).To(Equal("sample-object"))
			Expect(first.Extension).To(Equal("txt"))
			Expect(first.Ranges).To(BeEmpty())
		})

		It("should return error when key is empty", func() {
			_, err := xferfile.NewInfo("")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AddRange", func() {
		It("should coalesce stored ranges", func() {
			info := xferfiletest.InfoFactory(func(info *xferfile.Info) {
				info.Ranges = nil
			})
			info.AddRange(state.Range{Start: 100, End: 200})
			info.AddRange(state.Range{Start: 0, End: 100})
			Expect(info.Ranges).To(Equal(state.RangeSet{{Start: 0, End: 200}}))
		})
	})

	It("should survive a JSON round trip", func() {
		info := xferfiletest.InfoFactory(nil)
		data, err := json.Marshal(info)
		Expect(err).ToNot(HaveOccurred())

		var decoded xferfile.Info
		Expect(json.Unmarshal(data, &decoded)).To(Succeed())
		Expect(decoded.SessionID).To(Equal(info.SessionID))
		Expect(decoded.Ranges).To(Equal(info.Ranges))
		Expect(decoded.Metadata).To(Equal(info.Metadata))
	})

	Describe("GenerateInfoPath", func() {
		It("should return info file path", func() {
			infoPath, err := xferfile.GenerateInfoPath("sample-prefix/sample-object.txt")
			Expect(err).ToNot(HaveOccurred())
			Expect(infoPath).To(Equal("sample-prefix/sample-object.txt.info"))
		})

		It("should return error when file path is empty", func() {
			_, err := xferfile.GenerateInfoPath("")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GeneratePartPath", func() {
		It("should return part file path", func() {
			partPath, err := xferfile.GeneratePartPath("sample-object")
			Expect(err).ToNot(HaveOccurred())
			Expect(partPath).To(Equal("sample-object.part"))
		})
	})
})
