// Package rtc turns configured STUN/TURN servers into the pion descriptors
// sent to clients in auth-success. The relay never opens peer connections.
package rtc

import (
	"fmt"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/signalrelay/internal/config"
)

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ICEServers validates the configured servers and converts them. TURN
// entries need credentials; an empty list falls back to DefaultICEServers.
func ICEServers(in []config.ICEServer) ([]webrtc.ICEServer, error) {
	if len(in) == 0 {
		return DefaultICEServers(), nil
	}
	out := make([]webrtc.ICEServer, 0, len(in))
	for i, s := range in {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("ice server %d: no urls", i)
		}
		turn := false
		for _, u := range s.URLs {
			uri, err := stun.ParseURI(u)
			if err != nil {
				return nil, fmt.Errorf("ice server %d: url %q: %w", i, u, err)
			}
			if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
				turn = true
			}
		}
		if turn && (s.Username == "" || s.Credential == "") {
			return nil, fmt.Errorf("ice server %d: turn requires username and credential", i)
		}
		srv := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out, nil
}
