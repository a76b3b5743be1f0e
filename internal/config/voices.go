package config

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/agalue/voice-companion/internal/persona"
)

// Voice describes one Kokoro v1.0 speaker.
type Voice struct {
	SpeakerID  int
	EspeakCode string // espeak-ng language code
	Language   string // Display name
}

// Voices maps every Kokoro v1.0 speaker name to its metadata.
var Voices = map[string]Voice{
	// American English (20 voices)
	"af_alloy":   {SpeakerID: 0, EspeakCode: "en-us", Language: "American English"},
	"af_aoede":   {SpeakerID: 1, EspeakCode: "en-us", Language: "American English"},
	"af_bella":   {SpeakerID: 2, EspeakCode: "en-us", Language: "American English"},
	"af_heart":   {SpeakerID: 3, EspeakCode: "en-us", Language: "American English"},
	"af_jessica": {SpeakerID: 4, EspeakCode: "en-us", Language: "American English"},
	"af_kore":    {SpeakerID: 5, EspeakCode: "en-us", Language: "American English"},
	"af_nicole":  {SpeakerID: 6, EspeakCode: "en-us", Language: "American English"},
	"af_nova":    {SpeakerID: 7, EspeakCode: "en-us", Language: "American English"},
	"af_river":   {SpeakerID: 8, EspeakCode: "en-us", Language: "American English"},
	"af_sarah":   {SpeakerID: 9, EspeakCode: "en-us", Language: "American English"},
	"af_sky":     {SpeakerID: 10, EspeakCode: "en-us", Language: "American English"},
	"am_adam":    {SpeakerID: 11, EspeakCode: "en-us", Language: "American English"},
	"am_echo":    {SpeakerID: 12, EspeakCode: "en-us", Language: "American English"},
	"am_eric":    {SpeakerID: 13, EspeakCode: "en-us", Language: "American English"},
	"am_fenrir":  {SpeakerID: 14, EspeakCode: "en-us", Language: "American English"},
	"am_liam":    {SpeakerID: 15, EspeakCode: "en-us", Language: "American English"},
	"am_michael": {SpeakerID: 16, EspeakCode: "en-us", Language: "American English"},
	"am_onyx":    {SpeakerID: 17, EspeakCode: "en-us", Language: "American English"},
	"am_puck":    {SpeakerID: 18, EspeakCode: "en-us", Language: "American English"},
	"am_santa":   {SpeakerID: 19, EspeakCode: "en-us", Language: "American English"},

	// British English (8 voices)
	"bf_alice":    {SpeakerID: 20, EspeakCode: "en-gb", Language: "British English"},
	"bf_emma":     {SpeakerID: 21, EspeakCode: "en-gb", Language: "British English"},
	"bf_isabella": {SpeakerID: 22, EspeakCode: "en-gb", Language: "British English"},
	"bf_lily":     {SpeakerID: 23, EspeakCode: "en-gb", Language: "British English"},
	"bm_daniel":   {SpeakerID: 24, EspeakCode: "en-gb", Language: "British English"},
	"bm_fable":    {SpeakerID: 25, EspeakCode: "en-gb", Language: "British English"},
	"bm_george":   {SpeakerID: 26, EspeakCode: "en-gb", Language: "British English"},
	"bm_lewis":    {SpeakerID: 27, EspeakCode: "en-gb", Language: "British English"},

	// Spanish (2 voices)
	"ef_dora": {SpeakerID: 28, EspeakCode: "es", Language: "Spanish"},
	"em_alex": {SpeakerID: 29, EspeakCode: "es", Language: "Spanish"},

	// French (1 voice)
	"ff_siwis": {SpeakerID: 30, EspeakCode: "fr-fr", Language: "French"},

	// Hindi (4 voices)
	"hf_alpha": {SpeakerID: 31, EspeakCode: "hi", Language: "Hindi"},
	"hf_beta":  {SpeakerID: 32, EspeakCode: "hi", Language: "Hindi"},
	"hm_omega": {SpeakerID: 33, EspeakCode: "hi", Language: "Hindi"},
	"hm_psi":   {SpeakerID: 34, EspeakCode: "hi", Language: "Hindi"},

	// Italian (2 voices)
	"if_sara":   {SpeakerID: 35, EspeakCode: "it", Language: "Italian"},
	"im_nicola": {SpeakerID: 36, EspeakCode: "it", Language: "Italian"},

	// Japanese (5 voices)
	"jf_alpha":      {SpeakerID: 37, EspeakCode: "ja", Language: "Japanese"},
	"jf_gongitsune": {SpeakerID: 38, EspeakCode: "ja", Language: "Japanese"},
	"jf_nezumi":     {SpeakerID: 39, EspeakCode: "ja", Language: "Japanese"},
	"jf_tebukuro":   {SpeakerID: 40, EspeakCode: "ja", Language: "Japanese"},
	"jm_kumo":       {SpeakerID: 41, EspeakCode: "ja", Language: "Japanese"},

	// Portuguese BR (3 voices)
	"pf_dora":  {SpeakerID: 42, EspeakCode: "pt-br", Language: "Portuguese BR"},
	"pm_alex":  {SpeakerID: 43, EspeakCode: "pt-br", Language: "Portuguese BR"},
	"pm_santa": {SpeakerID: 44, EspeakCode: "pt-br", Language: "Portuguese BR"},

	// Mandarin Chinese (8 voices)
	"zf_xiaobei":  {SpeakerID: 45, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zf_xiaoni":   {SpeakerID: 46, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zf_xiaoxiao": {SpeakerID: 47, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zf_xiaoyi":   {SpeakerID: 48, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zm_yunjian":  {SpeakerID: 49, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zm_yunxi":    {SpeakerID: 50, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zm_yunxia":   {SpeakerID: 51, EspeakCode: "cmn", Language: "Mandarin Chinese"},
	"zm_yunyang":  {SpeakerID: 52, EspeakCode: "cmn", Language: "Mandarin Chinese"},
}

// languages lists voice languages in display order.
var languages = []string{
	"American English", "British English", "Spanish", "French",
	"Hindi", "Italian", "Japanese", "Portuguese BR", "Mandarin Chinese",
}

// Speakers returns a fresh name to speaker id map for the on-device voice.
func Speakers() map[string]int {
	out := make(map[string]int, len(Voices))
	for name, v := range Voices {
		out[name] = v.SpeakerID
	}
	return out
}

// personaFor returns the persona using voice as its on-device voice.
func personaFor(voice string) string {
	for _, name := range persona.Names() {
		if p, err := persona.Lookup(name); err == nil && p.LocalVoice == voice {
			return p.DisplayName
		}
	}
	return ""
}

// PrintVoices writes the on-device voices grouped by language.
func PrintVoices(w io.Writer) {
	fmt.Fprintf(w, "Kokoro v1.0 on-device voices (%d)\n", len(Voices))
	for _, lang := range languages {
		var names []string
		for name, v := range Voices {
			if v.Language == lang {
				names = append(names, name)
			}
		}
		slices.Sort(names)

		fmt.Fprintf(w, "\n── %s (%d) ──\n", lang, len(names))
		fmt.Fprintf(w, "%-15s %-4s %-7s %s\n", "VOICE", "ID", "ESPEAK", "PERSONA")
		fmt.Fprintln(w, strings.Repeat("─", 50))
		for _, name := range names {
			v := Voices[name]
			fmt.Fprintf(w, "%-15s %-4d %-7s %s\n", name, v.SpeakerID, v.EspeakCode, personaFor(name))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Each persona speaks with its own voice when the hosted speech service is unavailable.")
}

// PrintVoiceInfo writes the details of one voice.
func PrintVoiceInfo(w io.Writer, name string) error {
	v, ok := Voices[name]
	if !ok {
		guess := closest(name)
		if guess != "" {
			return fmt.Errorf("voice '%s' not found, did you mean '%s'? Run with -list-voices to see available voices", name, guess)
		}
		return fmt.Errorf("voice '%s' not found. Run with -list-voices to see available voices", name)
	}
	fmt.Fprintf(w, "Voice:       %s\n", name)
	fmt.Fprintf(w, "Speaker ID:  %d\n", v.SpeakerID)
	fmt.Fprintf(w, "Language:    %s\n", v.Language)
	fmt.Fprintf(w, "Espeak code: %s\n", v.EspeakCode)
	if p := personaFor(name); p != "" {
		fmt.Fprintf(w, "Persona:     %s\n", p)
	}
	return nil
}

// closest returns the voice sharing name's language prefix, if any.
func closest(name string) string {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return ""
	}
	for _, n := range slices.Sorted(maps.Keys(Voices)) {
		if strings.HasPrefix(n, prefix+"_") {
			return n
		}
	}
	return ""
}
