package starlink

import "errors"

// ErrNoPosition is returned while the dish has not resolved a position yet
var ErrNoPosition = errors.New("starlink: no position available")

// LocationResponse represents the response from get_location method
type LocationResponse struct {
	GetLocation struct {
		LLA struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
			Alt float64 `json:"alt"`
		} `json:"lla"`
		SigmaM float64 `json:"sigmaM"` // Accuracy in meters
		Source string  `json:"source"` // e.g. "GNC_FUSED"
	} `json:"getLocation"`
}

// StatusResponse is the part of get_status the location feed cares about
type StatusResponse struct {
	DishGetStatus struct {
		GPSStats GPSStats `json:"gpsStats"`
	} `json:"dishGetStatus"`
}

// GPSStats describes the dish GNSS receiver
type GPSStats struct {
	GPSValid   bool `json:"gpsValid"`
	GPSSats    int  `json:"gpsSats"`
	InhibitGPS bool `json:"inhibitGps"`
}
