package media_sdp

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pion/sdp/v3"
)

// Codec элемент фиксированного списка кодеков ответа
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
}

// AnswerCodecs кодеки, которые мост объявляет в каждом ответе
var AnswerCodecs = []Codec{
	{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
	{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	{PayloadType: 101, Name: "telephone-event", ClockRate: 8000},
}

const (
	answerUsername    = "SIPBridge"
	answerSessionName = "Call"
	answerPtimeMs     = 20
)

// BuildAnswer строит SDP ответ с адресом моста, выделенным RTP портом и
// фиксированным списком кодеков.
func BuildAnswer(ip string, port int) ([]byte, error) {
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("sdp: invalid answer address %q", ip)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("sdp: invalid answer port %d", port)
	}

	answer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       answerUsername,
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: sdp.SessionName(answerSessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	mediaDesc := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: port},
			Protos: []string{"RTP", "AVP"},
		},
	}

	for _, codec := range AnswerCodecs {
		mediaDesc.MediaName.Formats = append(mediaDesc.MediaName.Formats,
			strconv.Itoa(int(codec.PayloadType)))
		rtpmap := fmt.Sprintf("%d %s/%d", codec.PayloadType, codec.Name, codec.ClockRate)
		mediaDesc.Attributes = append(mediaDesc.Attributes, sdp.NewAttribute("rtpmap", rtpmap))
	}
	mediaDesc.Attributes = append(mediaDesc.Attributes,
		sdp.NewAttribute("ptime", strconv.Itoa(answerPtimeMs)),
		sdp.NewPropertyAttribute("sendrecv"),
	)

	answer.MediaDescriptions = []*sdp.MediaDescription{mediaDesc}

	body, err := answer.Marshal()
	if err != nil {
		return nil, fmt.Errorf("sdp: marshal answer: %w", err)
	}
	return body, nil
}
