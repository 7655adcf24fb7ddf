// Package media_sdp разбирает SDP предложение вызывающей стороны и строит
// фиксированный SDP ответ моста.
package media_sdp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ErrMalformedOffer в предложении нет строки c= или аудио строки m=
var ErrMalformedOffer = errors.New("sdp: malformed offer")

// Offer медиа-параметры из SDP предложения
type Offer struct {
	Address      string  // адрес из c= (уровень медиа приоритетнее уровня сессии)
	Port         int     // порт из m=audio
	PayloadTypes []uint8 // форматы из m=audio в порядке предложения
}

// UDPAddr адрес, куда отправлять RTP
func (o Offer) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(o.Address), Port: o.Port}
}

// ParseOffer извлекает адрес соединения и аудио медиа-строку из тела INVITE.
// Сначала тело разбирается строгим парсером pion/sdp, при неудаче
// построчно: многие АТС присылают минимальные тела без o=/s=/t=.
func ParseOffer(body []byte) (Offer, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err == nil {
		return offerFromDescription(&desc)
	}
	return scanOffer(body)
}

func offerFromDescription(desc *sdp.SessionDescription) (Offer, error) {
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media != "audio" {
			continue
		}

		// Сначала проверяем connection на уровне медиа
		connection := media.ConnectionInformation
		if connection == nil {
			connection = desc.ConnectionInformation
		}
		if connection == nil || connection.Address == nil || connection.Address.Address == "" {
			return Offer{}, fmt.Errorf("%w: no connection line", ErrMalformedOffer)
		}

		offer := Offer{
			Address:      connection.Address.Address,
			Port:         media.MediaName.Port.Value,
			PayloadTypes: parseFormats(media.MediaName.Formats),
		}
		return validate(offer)
	}

	return Offer{}, fmt.Errorf("%w: no audio media line", ErrMalformedOffer)
}

// scanOffer построчный разбор c= и m=audio
func scanOffer(body []byte) (Offer, error) {
	var (
		sessionAddr string
		mediaAddr   string
		offer       Offer
		inAudio     bool
		foundAudio  bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "m="):
			inAudio = false
			if foundAudio {
				continue
			}
			fields := strings.Fields(line[2:])
			if len(fields) < 2 || fields[0] != "audio" {
				continue
			}
			port, err := strconv.Atoi(strings.SplitN(fields[1], "/", 2)[0])
			if err != nil {
				return Offer{}, fmt.Errorf("%w: bad media port %q", ErrMalformedOffer, fields[1])
			}
			offer.Port = port
			if len(fields) > 3 {
				offer.PayloadTypes = parseFormats(fields[3:])
			}
			inAudio = true
			foundAudio = true

		case strings.HasPrefix(line, "c="):
			fields := strings.Fields(line[2:])
			if len(fields) < 3 {
				continue
			}
			// c=IN IP4 10.0.0.5/127 (TTL для multicast отбрасываем)
			addr := strings.SplitN(fields[2], "/", 2)[0]
			if inAudio {
				mediaAddr = addr
			} else if !foundAudio {
				sessionAddr = addr
			}
		}
	}

	if !foundAudio {
		return Offer{}, fmt.Errorf("%w: no audio media line", ErrMalformedOffer)
	}

	offer.Address = mediaAddr
	if offer.Address == "" {
		offer.Address = sessionAddr
	}
	if offer.Address == "" {
		return Offer{}, fmt.Errorf("%w: no connection line", ErrMalformedOffer)
	}

	return validate(offer)
}

func validate(offer Offer) (Offer, error) {
	if offer.Port <= 0 || offer.Port > 65535 {
		return Offer{}, fmt.Errorf("%w: media port %d", ErrMalformedOffer, offer.Port)
	}
	return offer, nil
}

func parseFormats(formats []string) []uint8 {
	out := make([]uint8, 0, len(formats))
	for _, f := range formats {
		pt, err := strconv.ParseUint(f, 10, 7)
		if err != nil {
			continue
		}
		out = append(out, uint8(pt))
	}
	return out
}
