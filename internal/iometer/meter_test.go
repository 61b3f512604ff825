package iometer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/derektruong/rxfer/internal/iometer"
	mock_iometer "github.com/derektruong/rxfer/internal/iometer/mock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Reader", func() {
	var (
		mockCtrl       *gomock.Controller
		mockReadCloser *mock_iometer.MockReadCloser
		counter        *atomic.Int64
		reader         *iometer.Reader
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		DeferCleanup(mockCtrl.Finish)
		mockReadCloser = mock_iometer.NewMockReadCloser(mockCtrl)
		counter = new(atomic.Int64)
		reader = iometer.NewReader(context.Background(), bytes.NewBufferString("test data"), counter)
	})

	Describe("Read", func() {
		It("should read data and update the counter", func(ctx context.Context) {
			data := make([]byte, 5)
			n, err := reader.Read(data)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(5))
			Expect(string(data)).To(Equal("test "))
			Expect(reader.Transferred()).To(Equal(int64(5)))
			Expect(counter.Load()).To(Equal(int64(5)))
		}, NodeTimeout(10*time.Second))

		It("should handle reading all data correctly", func(ctx context.Context) {
			data := make([]byte, 100)
			n, err := reader.Read(data)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(9))
			Expect(string(data[:n])).To(Equal("test data"))

			n, err = reader.Read(data)
			Expect(err).To(Equal(io.EOF))
			Expect(n).To(Equal(0))
			Expect(reader.Transferred()).To(Equal(int64(9)))
		}, NodeTimeout(10*time.Second))

		It("should propagate errors from the underlying reader", func(ctx context.Context) {
			failing := iometer.NewReader(ctx, mockReadCloser, nil)
			mockReadCloser.EXPECT().Read(gomock.Any()).Return(0, errors.New("read error"))
			data := make([]byte, 5)
			n, err := failing.Read(data)

			Expect(err).To(MatchError("read error"))
			Expect(n).To(Equal(0))
			Expect(failing.Transferred()).To(Equal(int64(0)))
		}, NodeTimeout(10*time.Second))

		It("should stop once the context is canceled", func(ctx context.Context) {
			canceledCtx, cancel := context.WithCancel(ctx)
			cancel()
			canceled := iometer.NewReader(canceledCtx, bytes.NewBufferString("test data"), counter)

			_, err := canceled.Read(make([]byte, 5))
			Expect(err).To(MatchError(context.Canceled))
			Expect(counter.Load()).To(BeZero())
		}, NodeTimeout(10*time.Second))

		It("should share the counter between readers", func(ctx context.Context) {
			other := iometer.NewReader(ctx, bytes.NewBufferString("more"), counter)
			_, err := io.ReadAll(reader)
			Expect(err).ToNot(HaveOccurred())
			_, err = io.ReadAll(other)
			Expect(err).ToNot(HaveOccurred())
			Expect(counter.Load()).To(Equal(int64(13)))
		}, NodeTimeout(10*time.Second))
	})

	Describe("SetRateLimit", func() {
		It("should set the rate limit correctly", func(ctx context.Context) {
			reader.SetRateLimit(1)
			data := make([]byte, 3)

			since := time.Now()
			n, err := reader.Read(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
			Expect(time.Since(since)).To(BeNumerically("~", 3*time.Second, 1*time.Second))
		}, NodeTimeout(10*time.Second))

		It("should remove the limit with a zero rate", func(ctx context.Context) {
			reader.SetRateLimit(1)
			reader.SetRateLimit(0)

			since := time.Now()
			_, err := io.ReadAll(reader)
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(since)).To(BeNumerically("<", time.Second))
		}, NodeTimeout(10*time.Second))
	})

	Describe("Close", func() {
		It("should close the underlying reader if it implements io.Closer", func(ctx context.Context) {
			closable := iometer.NewReader(ctx, mockReadCloser, nil)
			mockReadCloser.EXPECT().Close().Return(nil).Times(1)
			Expect(closable.Close()).To(Succeed())
			Expect(closable.Close()).To(Succeed())
		}, NodeTimeout(10*time.Second))

		It("should do nothing if the underlying reader doesn't implement io.Closer", func(ctx context.Context) {
			Expect(reader.Close()).To(Succeed())
		}, NodeTimeout(10*time.Second))
	})
})

var _ = Describe("Writer", func() {
	It("should write data and update the counter", func(ctx context.Context) {
		var buf bytes.Buffer
		counter := new(atomic.Int64)
		writer := iometer.NewWriter(ctx, &buf, counter)

		n, err := writer.Write([]byte("hello"))
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(buf.String()).To(Equal("hello"))
		Expect(writer.Transferred()).To(Equal(int64(5)))
	}, NodeTimeout(10*time.Second))

	It("should refuse to write once the context is canceled", func(ctx context.Context) {
		var buf bytes.Buffer
		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()
		writer := iometer.NewWriter(canceledCtx, &buf, nil)

		_, err := writer.Write([]byte("hello"))
		Expect(err).To(MatchError(context.Canceled))
		Expect(buf.Len()).To(BeZero())
	}, NodeTimeout(10*time.Second))

	It("should throttle writes", func(ctx context.Context) {
		var buf bytes.Buffer
		writer := iometer.NewWriter(ctx, &buf, nil)
		writer.SetRateLimit(2)

		since := time.Now()
		_, err := writer.Write([]byte("abcd"))
		Expect(err).ToNot(HaveOccurred())
		Expect(time.Since(since)).To(BeNumerically("~", 2*time.Second, 1*time.Second))
	}, NodeTimeout(10*time.Second))
})
