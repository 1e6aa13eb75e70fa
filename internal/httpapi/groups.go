package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

type groupListResponse struct {
	ConsumerGroups []string `json:"consumer_groups"`
}

// listGroups serves both scopes: the groups declared by this service's specs
// (default) or every group the cluster reports (all_groups=true).
func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all_groups"))

	var groups []string
	var err error
	if all {
		groups, err = s.insp.ListGroups(nil)
	} else {
		groups, err = s.sup.GroupIDs()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groupListResponse{ConsumerGroups: groups})
}

type offsetEntry struct {
	Topic         string `json:"topic"`
	Partition     int32  `json:"partition"`
	CurrentOffset int64  `json:"current_offset"`
	Metadata      string `json:"metadata"`
}

type groupOffsetsResponse struct {
	GroupID string        `json:"group_id"`
	Offsets []offsetEntry `json:"offsets"`
}

func (s *Server) groupOffsets(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]

	offsets, err := s.insp.CommittedOffsets(nil, groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := groupOffsetsResponse{GroupID: groupID, Offsets: []offsetEntry{}}
	for topic, parts := range offsets {
		for partition, meta := range parts {
			resp.Offsets = append(resp.Offsets, offsetEntry{
				Topic:         topic,
				Partition:     partition,
				CurrentOffset: meta.Offset,
				Metadata:      meta.Metadata,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// monitorOffsets renders {topic: {partition: committed offset}} for a group,
// optionally against caller-supplied bootstrap servers.
func (s *Server) monitorOffsets(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group_id")
	servers := splitServers(r.URL.Query().Get("bootstrap_servers"))

	offsets, err := s.insp.CommittedOffsets(servers, groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := map[string]map[int32]int64{}
	for topic, parts := range offsets {
		out[topic] = map[int32]int64{}
		for partition, meta := range parts {
			out[topic][partition] = meta.Offset
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// monitorLag renders {partition: {current_offset, log_end_offset, lag}}.
func (s *Server) monitorLag(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	servers := splitServers(q.Get("bootstrap_servers"))

	lag, err := s.insp.Lag(servers, q.Get("group_id"), q.Get("topic"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lag)
}

func splitServers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
