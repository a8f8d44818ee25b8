package synth

import "sync"

// VoiceAllocator hands out distinct voices to the characters of one
// conversation, round-robin over the voices matching each request.
type VoiceAllocator struct {
	catalog *Catalog

	mu       sync.Mutex
	assigned map[string]string
	cursor   int
}

func NewVoiceAllocator(c *Catalog) *VoiceAllocator {
	if c == nil {
		c = DefaultCatalog()
	}
	return &VoiceAllocator{catalog: c, assigned: make(map[string]string)}
}

// Assign returns the voice of character, allocating one on first use. A
// voice already held by another character is reused only when every
// matching voice is taken.
func (a *VoiceAllocator) Assign(character string, pref Preference) Voice {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.assigned[character]; ok {
		if v, ok := a.catalog.Lookup(id); ok {
			return v
		}
	}

	candidates := a.catalog.Match(pref)
	if len(candidates) == 0 && pref.Personality != "" {
		candidates = a.catalog.Match(Preference{Gender: pref.Gender})
	}
	if len(candidates) == 0 {
		candidates = a.catalog.voices
	}

	inUse := make(map[string]bool, len(a.assigned))
	for _, id := range a.assigned {
		inUse[id] = true
	}

	pick := candidates[a.cursor%len(candidates)]
	for i := range candidates {
		v := candidates[(a.cursor+i)%len(candidates)]
		if !inUse[v.ID] {
			pick = v
			break
		}
	}
	a.cursor++
	a.assigned[character] = pick.ID
	return pick
}

func (a *VoiceAllocator) Release(character string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.assigned, character)
}

func (a *VoiceAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.assigned)
	a.cursor = 0
}
