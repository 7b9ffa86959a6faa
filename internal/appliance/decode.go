package appliance

import (
	"encoding/json"
	"fmt"

	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/positioning"
)

type wireStatus struct {
	Username    *string             `json:"username"`
	PixiePoints map[string]*wireTag `json:"pixiePoints"`
}

type wireTag struct {
	Status   *string             `json:"status"`
	TagName  string              `json:"tagName"`
	TagColor string              `json:"tagColor"`
	Range    map[string]*float64 `json:"range"`
}

// DecodeStatus parses a /getPixieStatus body. Malformed JSON wraps
// positioning.ErrTransport; missing required fields wrap
// positioning.ErrDataIntegrity.
func DecodeStatus(data []byte) (*model.RawStatus, error) {
	var wire wireStatus
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: decode pixie status: %v", positioning.ErrTransport, err)
	}

	if wire.PixiePoints == nil {
		return nil, &positioning.Fault{Kind: positioning.ErrDataIntegrity, Detail: "pixiePoints missing from appliance status"}
	}

	raw := &model.RawStatus{PixiePoints: make(map[string]model.TagReading, len(wire.PixiePoints))}
	if wire.Username != nil {
		raw.Username = *wire.Username
	}

	for id, tag := range wire.PixiePoints {
		if tag == nil || tag.Status == nil {
			return nil, &positioning.Fault{Kind: positioning.ErrDataIntegrity, Tag: id, Detail: "status missing from pixie point"}
		}
		raw.PixiePoints[id] = model.TagReading{
			Status:   model.TagStatus(*tag.Status),
			TagName:  tag.TagName,
			TagColor: tag.TagColor,
			Range:    presentRanges(tag.Range),
		}
	}

	return raw, nil
}

// presentRanges drops null entries so they read as missing distances.
func presentRanges(wire map[string]*float64) map[string]float64 {
	if wire == nil {
		return nil
	}
	ranges := make(map[string]float64, len(wire))
	for peer, dist := range wire {
		if dist != nil {
			ranges[peer] = *dist
		}
	}
	return ranges
}
