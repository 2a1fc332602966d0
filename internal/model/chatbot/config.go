package chatbot

import (
	"strconv"
	"strings"
)

// Config is the read-only presentation of a chatbot, fetched once per widget.
type Config struct {
	DisplayName  string `json:"displayName"`
	Avatar       string `json:"avatar,omitempty"`
	PrimaryColor string `json:"primaryColor,omitempty"`
}

// PrimaryRGB parses PrimaryColor (#rgb, #rrggbb or #rrggbbaa) into its red,
// green and blue channels. Alpha is ignored.
func (c Config) PrimaryRGB() ([3]uint8, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(c.PrimaryColor), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 && len(hex) != 8 {
		return [3]uint8{}, false
	}

	var rgb [3]uint8
	for i := range rgb {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return [3]uint8{}, false
		}
		rgb[i] = uint8(v)
	}
	return rgb, true
}
