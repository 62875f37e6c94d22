package model

import (
	"errors"
	"strings"
	"time"
)

// PresentationProfile is the single active branding/settings record.
type PresentationProfile struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	PrimaryColor   string    `json:"primary_color"`
	SecondaryColor string    `json:"secondary_color"`
	TextColor      string    `json:"text_color"`
	AccentColor    string    `json:"accent_color"`
	Background     string    `json:"background,omitempty"`
	Logo           string    `json:"logo,omitempty"`
	ModifiedAt     time.Time `json:"modified_at"`
}

func DefaultPresentation() PresentationProfile {
	return PresentationProfile{
		ID:             NewID(),
		DisplayName:    "Swift Cafe",
		PrimaryColor:   "blue",
		SecondaryColor: "gray",
		TextColor:      "black",
		AccentColor:    "orange",
		ModifiedAt:     time.Now().UTC(),
	}
}

func (p PresentationProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("presentation: missing id")
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return errors.New("presentation: missing display name")
	}
	for _, c := range []string{p.PrimaryColor, p.SecondaryColor, p.TextColor, p.AccentColor} {
		if strings.TrimSpace(c) == "" {
			return errors.New("presentation: empty color")
		}
	}
	return nil
}
