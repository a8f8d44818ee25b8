package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/parley/internal/synth"
)

type voiceSummary struct {
	VoiceID       string   `json:"voice_id"`
	Name          string   `json:"name"`
	Gender        string   `json:"gender,omitempty"`
	Personalities []string `json:"personalities,omitempty"`
}

type listVoicesResponse struct {
	Recommended []voiceSummary `json:"recommended"`
	Voices      []voiceSummary `json:"voices"`
}

// handleListVoices lists the catalog. The gender and personality query
// parameters select the recommended voices.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondJSON(w, http.StatusOK, listVoicesResponse{Recommended: []voiceSummary{}, Voices: []voiceSummary{}})
		return
	}
	voices := s.catalog.Voices()
	out := make([]voiceSummary, 0, len(voices))
	for _, v := range voices {
		out = append(out, summarize(v))
	}

	recommended := []voiceSummary{}
	pref := synth.Preference{
		Gender:      strings.TrimSpace(r.URL.Query().Get("gender")),
		Personality: strings.TrimSpace(r.URL.Query().Get("personality")),
	}
	if pref.Gender != "" || pref.Personality != "" {
		for _, v := range s.catalog.Match(pref) {
			recommended = append(recommended, summarize(v))
		}
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{Recommended: recommended, Voices: out})
}

func summarize(v synth.Voice) voiceSummary {
	return voiceSummary{VoiceID: v.ID, Name: v.Name, Gender: v.Gender, Personalities: v.Personalities}
}
