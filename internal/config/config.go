// Package config loads companion settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agalue/voice-companion/internal/capture"
	"github.com/agalue/voice-companion/internal/llm"
	"github.com/agalue/voice-companion/internal/persona"
	"github.com/agalue/voice-companion/internal/sherpa"
	"github.com/agalue/voice-companion/internal/stt"
	"github.com/agalue/voice-companion/internal/tts"
	"github.com/agalue/voice-companion/internal/vad"
)

// ErrHelp is returned by Load when usage was requested.
var ErrHelp = flag.ErrHelp

// ListenMode selects how utterances are delimited.
type ListenMode int

const (
	// PushToTalk records while the user holds the talk control.
	PushToTalk ListenMode = iota
	// AlwaysListening lets the voice activity detector find utterances.
	AlwaysListening
)

func (m ListenMode) String() string {
	switch m {
	case PushToTalk:
		return "ptt"
	case AlwaysListening:
		return "vad"
	default:
		return "unknown"
	}
}

// ParseListenMode converts "ptt" or "vad" to a ListenMode.
func ParseListenMode(s string) (ListenMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ptt", "push-to-talk":
		return PushToTalk, nil
	case "vad", "always", "always-listening":
		return AlwaysListening, nil
	default:
		return PushToTalk, fmt.Errorf("invalid listen mode: %s (must be 'ptt' or 'vad')", s)
	}
}

// Set implements flag.Value.
func (m *ListenMode) Set(s string) error {
	v, err := ParseListenMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m ListenMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ListenMode) UnmarshalText(b []byte) error { return m.Set(string(b)) }

// CaptureMode maps the listen mode onto a capture mode.
func (m ListenMode) CaptureMode() capture.Mode {
	if m == AlwaysListening {
		return capture.AlwaysListening
	}
	return capture.Manual
}

// Backend names.
const (
	BackendAuto   = "auto"
	BackendOpenAI = "openai"
	BackendLocal  = "local"
)

// Config holds all companion settings.
type Config struct {
	Persona      string        `yaml:"persona"`
	BondLevel    int           `yaml:"bond_level"`
	Answers      []string      `yaml:"answers"`
	Greet        bool          `yaml:"greet"`
	ListenMode   ListenMode    `yaml:"listen_mode"`
	Backend      string        `yaml:"backend"` // auto, openai or local
	Timeout      time.Duration `yaml:"timeout"` // Per backend call
	HistoryTurns int           `yaml:"history_turns"`
	Stream       bool          `yaml:"stream"`
	LogLevel     string        `yaml:"log_level"`

	OpenAI OpenAI     `yaml:"openai"`
	Ollama Ollama     `yaml:"ollama"`
	Local  Local      `yaml:"local"`
	Audio  Audio      `yaml:"audio"`
	VAD    vad.Config `yaml:"vad"`
	Server Server     `yaml:"server"`
}

// OpenAI configures the hosted backend. The key only comes from the
// environment.
type OpenAI struct {
	APIKey          string  `yaml:"-"`
	BaseURL         string  `yaml:"base_url"`
	ChatModel       string  `yaml:"chat_model"`
	TranscribeModel string  `yaml:"transcribe_model"`
	Language        string  `yaml:"language"`
	SpeechModel     string  `yaml:"speech_model"`
	SpeechSpeed     float64 `yaml:"speech_speed"`
}

// Ollama configures the local generation server.
type Ollama struct {
	URL         string  `yaml:"url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	ContextSize int     `yaml:"context_size"`
}

// Local configures the on-device Whisper recognizer and Kokoro voice.
type Local struct {
	ModelDir    string  `yaml:"model_dir"`
	Language    string  `yaml:"language"`     // Whisper language, "auto" to detect
	Provider    string  `yaml:"provider"`     // cpu, cuda, coreml; empty detects
	STTProvider string  `yaml:"stt_provider"` // Overrides Provider for Whisper
	TTSProvider string  `yaml:"tts_provider"` // Overrides Provider for Kokoro
	NumThreads  int     `yaml:"num_threads"`  // 0 picks cores/3
	STTThreads  int     `yaml:"stt_threads"`
	TTSThreads  int     `yaml:"tts_threads"`
	TTSSpeed    float64 `yaml:"tts_speed"`
	Verbose     bool    `yaml:"verbose"`
}

// Audio configures the devices and capture framing.
type Audio struct {
	SampleRate    int           `yaml:"sample_rate"`
	BufferMs      uint32        `yaml:"buffer_ms"` // Device period, 0 picks 100ms
	FrameInterval time.Duration `yaml:"frame_interval"`
	Preroll       time.Duration `yaml:"preroll"`
	MaxSegment    time.Duration `yaml:"max_segment"`
	EchoGuard     float64       `yaml:"echo_guard"` // 0 lets the speaker trigger VAD
}

// Server configures the avatar feed and metrics listener.
type Server struct {
	Addr      string   `yaml:"addr"` // Empty disables the listener
	Origins   []string `yaml:"origins"`
	FrameRate int      `yaml:"frame_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	capCfg := capture.DefaultConfig()
	return &Config{
		Persona:      "krea",
		BondLevel:    persona.DefaultBondLevel,
		Greet:        true,
		ListenMode:   PushToTalk,
		Backend:      BackendAuto,
		Timeout:      30 * time.Second,
		HistoryTurns: 20,
		LogLevel:     "info",
		OpenAI: OpenAI{
			ChatModel:       llm.DefaultOpenAIModel,
			TranscribeModel: "whisper-1",
			Language:        "en",
			SpeechModel:     "tts-1",
			SpeechSpeed:     1.0,
		},
		Ollama: Ollama{
			URL:         "http://localhost:11434",
			Model:       "gemma3:1b",
			Temperature: 0.7,
			MaxTokens:   150,
			ContextSize: 2048,
		},
		Local: Local{
			ModelDir: filepath.Join(homeDir, ".voice-companion", "models"),
			Language: "en",
			TTSSpeed: 0.93,
		},
		Audio: Audio{
			SampleRate:    capCfg.SampleRate,
			FrameInterval: capCfg.FrameInterval,
			Preroll:       capCfg.Preroll,
			MaxSegment:    capCfg.MaxSegment,
			EchoGuard:     capCfg.EchoGuard,
		},
		VAD: vad.DefaultConfig(),
		Server: Server{
			Addr:      "127.0.0.1:8765",
			FrameRate: 30,
		},
	}
}

// Options are the flags that act instead of configuring.
type Options struct {
	ListVoices bool
	VoiceInfo  string
}

// Load builds the configuration for args (without the program name).
// getenv is consulted before the .env file; nil means os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, Options, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	// Parse once against a scratch config to learn which flags were set.
	var (
		opts    Options
		path    string
		envFile string
	)
	probe := flag.NewFlagSet("companion", flag.ContinueOnError)
	bindFlags(probe, Default())
	probe.StringVar(&path, "config", "", "Path to a YAML configuration file")
	probe.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file")
	probe.BoolVar(&opts.ListVoices, "list-voices", false, "List the on-device voices and exit")
	probe.StringVar(&opts.VoiceInfo, "voice-info", "", "Show details of one on-device voice and exit")
	if err := probe.Parse(args); err != nil {
		return nil, opts, err
	}
	if probe.NArg() > 0 {
		return nil, opts, fmt.Errorf("unexpected arguments: %s", strings.Join(probe.Args(), " "))
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, opts, err
		}
	}

	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, opts, fmt.Errorf("read %s: %w", envFile, err)
	}
	cfg.applyEnv(func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	})

	final := flag.NewFlagSet("companion", flag.ContinueOnError)
	bindFlags(final, cfg)
	var setErr error
	probe.Visit(func(f *flag.Flag) {
		if final.Lookup(f.Name) == nil {
			return
		}
		if f.Name == "answer" {
			cfg.Answers = strings.Split(f.Value.String(), answerSep)
			return
		}
		if err := final.Set(f.Name, f.Value.String()); err != nil {
			setErr = errors.Join(setErr, err)
		}
	})
	if setErr != nil {
		return nil, opts, setErr
	}

	cfg.normalize()
	return cfg, opts, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Ollama.URL = v
	}
}

func bindFlags(set *flag.FlagSet, c *Config) {
	set.StringVar(&c.Persona, "persona", c.Persona, "Companion persona ("+strings.Join(persona.Names(), ", ")+")")
	set.IntVar(&c.BondLevel, "bond", c.BondLevel, "Bond level between the user and the companion (0-100)")
	set.Var((*answersFlag)(&c.Answers), "answer", "Onboarding answer, repeatable")
	set.BoolVar(&c.Greet, "greet", c.Greet, "Greet the user on start")
	set.Var(&c.ListenMode, "listen", "Listen mode: 'ptt' (spacebar or avatar pointer) or 'vad' (always listening)")
	set.StringVar(&c.Backend, "backend", c.Backend, "Backend: auto, openai or local")
	set.DurationVar(&c.Timeout, "timeout", c.Timeout, "Timeout for each transcription, generation and synthesis call")
	set.IntVar(&c.HistoryTurns, "history", c.HistoryTurns, "Transcript turns sent with each request")
	set.BoolVar(&c.Stream, "stream", c.Stream, "Stream replies from the generator")
	set.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error")

	set.StringVar(&c.OpenAI.ChatModel, "chat-model", c.OpenAI.ChatModel, "Hosted chat model")
	set.StringVar(&c.OpenAI.SpeechModel, "speech-model", c.OpenAI.SpeechModel, "Hosted speech model")
	set.Float64Var(&c.OpenAI.SpeechSpeed, "speech-speed", c.OpenAI.SpeechSpeed, "Hosted speech speed (0.25-4.0)")

	set.StringVar(&c.Ollama.URL, "ollama-url", c.Ollama.URL, "Ollama API URL")
	set.StringVar(&c.Ollama.Model, "ollama-model", c.Ollama.Model, "Ollama model name")
	set.Float64Var(&c.Ollama.Temperature, "temperature", c.Ollama.Temperature, "Ollama temperature (0.0-2.0)")

	set.StringVar(&c.Local.ModelDir, "model-dir", c.Local.ModelDir, "Directory containing the Whisper and Kokoro models")
	set.StringVar(&c.Local.Language, "stt-language", c.Local.Language, "Whisper language code ('auto' to detect)")
	set.StringVar(&c.Local.Provider, "provider", c.Local.Provider, "Hardware acceleration provider (cpu, cuda, coreml). Auto-detected if not specified")
	set.IntVar(&c.Local.NumThreads, "num-threads", c.Local.NumThreads, "Threads for the on-device models (0 = auto-detect)")
	set.Float64Var(&c.Local.TTSSpeed, "tts-speed", c.Local.TTSSpeed, "On-device voice speed multiplier")
	set.BoolVar(&c.Local.Verbose, "verbose", c.Local.Verbose, "Verbose model logging")

	set.Var((*uint32Flag)(&c.Audio.BufferMs), "audio-buffer-ms", "Audio device period in ms (0=auto 100ms for Bluetooth, 20ms for wired/built-in)")
	set.Float64Var(&c.VAD.SpeechThreshold, "vad-speech", c.VAD.SpeechThreshold, "Level that starts speech (0-1)")
	set.Float64Var(&c.VAD.SilenceThreshold, "vad-silence", c.VAD.SilenceThreshold, "Level below which silence is counted (0-1)")
	set.DurationVar(&c.VAD.SilenceDuration, "vad-silence-duration", c.VAD.SilenceDuration, "Silence that ends an utterance")
	set.DurationVar(&c.VAD.MinSpeechDuration, "vad-min-speech", c.VAD.MinSpeechDuration, "Shortest utterance kept")

	set.StringVar(&c.Server.Addr, "addr", c.Server.Addr, "Listen address for the avatar feed and metrics (empty disables)")
}

// answersFlag collects repeated -answer flags. The first use replaces
// answers from the file.
type answersFlag []string

func (a *answersFlag) String() string {
	if a == nil {
		return ""
	}
	return strings.Join(*a, answerSep)
}

func (a *answersFlag) Set(s string) error {
	*a = append(*a, s)
	return nil
}

// answerSep joins answers when a parsed flag is replayed.
const answerSep = "\x1f"

type uint32Flag uint32

func (u *uint32Flag) String() string {
	if u == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*u), 10)
}

func (u *uint32Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q", s)
	}
	*u = uint32Flag(v)
	return nil
}

// normalize fills derived values.
func (c *Config) normalize() {
	c.Persona = strings.ToLower(strings.TrimSpace(c.Persona))
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendAuto
	}

	c.Local.Provider = sherpa.Provider(c.Local.Provider)
	if c.Local.STTProvider == "" {
		c.Local.STTProvider = c.Local.Provider
	}
	if c.Local.TTSProvider == "" {
		c.Local.TTSProvider = c.Local.Provider
	}
	if c.Local.NumThreads == 0 {
		c.Local.NumThreads = max(1, runtime.NumCPU()/3)
	}
	if c.Local.STTThreads == 0 {
		c.Local.STTThreads = c.Local.NumThreads
	}
	if c.Local.TTSThreads == 0 {
		c.Local.TTSThreads = c.Local.NumThreads
	}
}

// UseOpenAI reports whether the hosted backend serves transcription,
// generation and speech.
func (c *Config) UseOpenAI() bool {
	switch c.Backend {
	case BackendOpenAI:
		return true
	case BackendLocal:
		return false
	default:
		return c.OpenAI.APIKey != ""
	}
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := persona.Lookup(c.Persona); err != nil {
		errs = append(errs, err)
	}
	if c.BondLevel < 0 || c.BondLevel > 100 {
		errs = append(errs, fmt.Errorf("bond level %d must be in [0,100]", c.BondLevel))
	}
	if len(c.Answers) > 5 {
		errs = append(errs, fmt.Errorf("at most 5 onboarding answers, got %d", len(c.Answers)))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout %v must be positive", c.Timeout))
	}
	if c.HistoryTurns <= 0 {
		errs = append(errs, fmt.Errorf("history %d must be positive", c.HistoryTurns))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.Audio.SampleRate))
	}
	if c.Audio.EchoGuard < 0 {
		errs = append(errs, fmt.Errorf("echo guard %v must not be negative", c.Audio.EchoGuard))
	}
	if c.Server.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate %d must be positive", c.Server.FrameRate))
	}
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Backend {
	case BackendAuto, BackendOpenAI, BackendLocal:
	default:
		errs = append(errs, fmt.Errorf("invalid backend: %s (must be 'auto', 'openai' or 'local')", c.Backend))
	}
	if c.Backend == BackendOpenAI && c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("the openai backend needs OPENAI_API_KEY"))
	}
	if c.UseOpenAI() {
		if s := c.OpenAI.SpeechSpeed; s < 0.25 || s > 4 {
			errs = append(errs, fmt.Errorf("speech speed %v must be in [0.25,4]", s))
		}
	} else {
		if c.Ollama.Model == "" {
			errs = append(errs, errors.New("ollama model must not be empty"))
		}
		wc := c.Whisper()
		for _, p := range []string{wc.Encoder, wc.Decoder, wc.Tokens} {
			if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("required file not found: %s\nRun scripts/setup.sh to download models", p))
			}
		}
	}
	return errors.Join(errs...)
}

// Whisper returns the on-device recognizer settings.
func (c *Config) Whisper() stt.WhisperConfig {
	dir := filepath.Join(c.Local.ModelDir, "whisper")
	return stt.WhisperConfig{
		Encoder:    filepath.Join(dir, "whisper-small-encoder.int8.onnx"),
		Decoder:    filepath.Join(dir, "whisper-small-decoder.int8.onnx"),
		Tokens:     filepath.Join(dir, "whisper-small-tokens.txt"),
		Language:   c.Local.Language,
		Provider:   c.Local.STTProvider,
		NumThreads: c.Local.STTThreads,
		SampleRate: c.Audio.SampleRate,
		Verbose:    c.Local.Verbose,
	}
}

// Kokoro returns the on-device voice settings for p. Its default speaker
// is the persona's local voice, and the persona's hosted voice name maps
// to the same speaker.
func (c *Config) Kokoro(p persona.Persona) tts.KokoroConfig {
	dir := filepath.Join(c.Local.ModelDir, "tts", "kokoro-multi-lang-v1_0")
	voice, ok := Voices[p.LocalVoice]
	if !ok {
		voice = Voices["af_bella"]
	}
	speakers := Speakers()
	speakers[p.Voice] = voice.SpeakerID

	return tts.KokoroConfig{
		Model:      filepath.Join(dir, "model.onnx"),
		Voices:     filepath.Join(dir, "voices.bin"),
		Tokens:     filepath.Join(dir, "tokens.txt"),
		DataDir:    filepath.Join(dir, "espeak-ng-data"),
		Lexicon:    lexiconFor(dir, voice),
		Language:   languageFor(voice),
		SpeakerID:  voice.SpeakerID,
		Speakers:   speakers,
		Speed:      float32(c.Local.TTSSpeed),
		Provider:   c.Local.TTSProvider,
		NumThreads: c.Local.TTSThreads,
		Verbose:    c.Local.Verbose,
	}
}

// KokoroAvailable reports whether the on-device voice model is installed.
func (c *Config) KokoroAvailable(p persona.Persona) bool {
	kc := c.Kokoro(p)
	for _, path := range []string{kc.Model, kc.Voices, kc.Tokens} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Capture returns the capture session settings.
func (c *Config) Capture() capture.Config {
	return capture.Config{
		SampleRate:    c.Audio.SampleRate,
		FrameInterval: c.Audio.FrameInterval,
		Preroll:       c.Audio.Preroll,
		MaxSegment:    c.Audio.MaxSegment,
		EchoGuard:     c.Audio.EchoGuard,
		VAD:           c.VAD,
	}
}

// OllamaConfig returns the local generator settings.
func (c *Config) OllamaConfig() llm.OllamaConfig {
	return llm.OllamaConfig{
		Host:        c.Ollama.URL,
		Model:       c.Ollama.Model,
		Temperature: c.Ollama.Temperature,
		MaxTokens:   c.Ollama.MaxTokens,
		ContextSize: c.Ollama.ContextSize,
	}
}

// lexiconFor picks the Kokoro lexicon for a voice. English and Mandarin
// voices use lexicon files; other languages go through espeak-ng.
func lexiconFor(dir string, v Voice) string {
	switch v.EspeakCode {
	case "en-us":
		return filepath.Join(dir, "lexicon-us-en.txt")
	case "en-gb":
		return filepath.Join(dir, "lexicon-gb-en.txt")
	case "cmn":
		return filepath.Join(dir, "lexicon-us-en.txt") + "," + filepath.Join(dir, "lexicon-zh.txt")
	default:
		return ""
	}
}

// languageFor returns the espeak-ng code for voices without a lexicon.
func languageFor(v Voice) string {
	switch v.EspeakCode {
	case "en-us", "en-gb", "cmn":
		return ""
	default:
		return v.EspeakCode
	}
}
