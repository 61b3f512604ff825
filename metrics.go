package rxfer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/derektruong/rxfer"

func (c *Client) registerMeterCallback() (registration metric.Registration, err error) {
	provider := c.options.meterProvider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)
	var chunksCommitted, bytesCommitted, bytesTransferred metric.Int64ObservableCounter
	if chunksCommitted, err = meter.Int64ObservableCounter(
		"rxfer.chunks_committed",
		metric.WithDescription("Number of chunks committed to the transfer state store"),
	); err != nil {
		return
	}
	if bytesCommitted, err = meter.Int64ObservableCounter(
		"rxfer.bytes_committed",
		metric.WithDescription("Number of bytes committed to the transfer state store"),
		metric.WithUnit("By"),
	); err != nil {
		return
	}
	if bytesTransferred, err = meter.Int64ObservableCounter(
		"rxfer.bytes_transferred",
		metric.WithDescription("Number of bytes moved, retried chunks included"),
		metric.WithUnit("By"),
	); err != nil {
		return
	}

	return meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) (err error) {
			o.ObserveInt64(chunksCommitted, c.chunksCommitted.Load())
			o.ObserveInt64(bytesCommitted, c.bytesCommitted.Load())
			o.ObserveInt64(bytesTransferred, c.bytesTransferred.Load())
			return
		},
		chunksCommitted, bytesCommitted, bytesTransferred,
	)
}
