package infra

import (
	"fmt"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/vmihailenco/msgpack/v5"
)

// Eventos vão para as listas do buffer em msgpack: mais compacto que JSON e
// preserva time.Time sem conversão manual.

func encodeEvent(ev domain.RequestEvent) ([]byte, error) {
	raw, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}

func decodeEvent(raw []byte) (domain.RequestEvent, error) {
	var ev domain.RequestEvent
	if err := msgpack.Unmarshal(raw, &ev); err != nil {
		return domain.RequestEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
