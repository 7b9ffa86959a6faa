package model

import (
	"encoding/json"
	"time"
)

// TagStatus is the connection state reported by the appliance for a tag.
type TagStatus string

// StatusConnected is the only state for which coordinates are computed.
const StatusConnected TagStatus = "Connected"

// TagReading is the appliance's view of a single tag.
type TagReading struct {
	Status   TagStatus          `json:"status"`
	TagName  string             `json:"tagName"`
	TagColor string             `json:"tagColor"`
	Range    map[string]float64 `json:"range"`
}

// RawStatus is the uncalibrated payload returned by /getPixieStatus.
type RawStatus struct {
	Username    string                `json:"username"`
	PixiePoints map[string]TagReading `json:"pixiePoints"`
}

// Dimensions is the configured bounding box of the tracked space.
type Dimensions struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Coordinates is a calibrated position relative to the first reference point.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ReferencePoint is a reference tag together with its distances to the
// neighbouring reference tags.
type ReferencePoint struct {
	Ref   TagReading `json:"ref"`
	DistN float64    `json:"distn"`
	DistP float64    `json:"distp"`
}

// LocatedPoint is a non-reference tag in a LocationReport. Coordinates is nil
// when the tag is not connected or its position could not be computed.
type LocatedPoint struct {
	Status      TagStatus    `json:"status"`
	TagName     string       `json:"tagName"`
	TagColor    string       `json:"tagColor"`
	Coordinates *Coordinates `json:"coordinates"`
}

// MarshalJSON renders absent coordinates as an empty object.
func (p LocatedPoint) MarshalJSON() ([]byte, error) {
	type alias LocatedPoint
	out := struct {
		alias
		Coordinates any `json:"coordinates"`
	}{alias: alias(p), Coordinates: struct{}{}}
	if p.Coordinates != nil {
		out.Coordinates = p.Coordinates
	}
	return json.Marshal(out)
}

// UnmarshalJSON treats an empty coordinates object as absent.
func (p *LocatedPoint) UnmarshalJSON(data []byte) error {
	type alias LocatedPoint
	aux := struct {
		*alias
		Coordinates map[string]int `json:"coordinates"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.Coordinates = nil
	x, okX := aux.Coordinates["x"]
	y, okY := aux.Coordinates["y"]
	if okX && okY {
		p.Coordinates = &Coordinates{X: x, Y: y}
	}
	return nil
}

// LocationReport is the calibrated output delivered to requesters.
type LocationReport struct {
	Username    string                  `json:"username"`
	PixiePoints map[string]LocatedPoint `json:"pixiePoints"`
	Dimensions  Dimensions              `json:"dimensions"`
}

// ItemLocationsRequest is the parameter block of the getitemlocations and
// getrawitemlocations services.
type ItemLocationsRequest struct {
	Tags   []string `json:"tags"`
	SendTo string   `json:"sendto"`
}

// PingRequest is the parameter block of the core ping service.
type PingRequest struct {
	Message string `json:"message"`
}

// StatusResponse is returned to the caller of every callback service.
type StatusResponse struct {
	Status int `json:"status"`
}

// Envelope is the message block handed to the Service Edge for delivery.
type Envelope struct {
	ServiceName string `json:"service_name"`
	Timeout     int64  `json:"timeout"`
	Parameters  []any  `json:"parameters"`
}

// Fault is a persisted positioning or upstream failure.
type Fault struct {
	Kind      string    `json:"kind"`
	Tag       string    `json:"tag,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is a persisted record of a message handed to the Service Edge.
type Delivery struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
