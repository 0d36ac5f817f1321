// Package config loads the environment configuration from env.yaml.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultFFmpegBin        = "/usr/bin/ffmpeg"
	DefaultEncoderPreset    = "medium"
	DefaultOutputFrameRate  = 60
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultReaderWindow     = 1 << 20
	DefaultChromaKeyColor   = "#ff00ff"
	DefaultMessageBuffer    = 16

	maxFrameRate = 240
)

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidColor    = errors.New("invalid color")
	ErrInvalidValue    = errors.New("invalid value")
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	StorageDir string `yaml:"storageDir"`
	FFmpegBin  string `yaml:"ffmpegBin"`

	// Font sheets are loaded from FontURL when set, otherwise from FontDir.
	FontDir string `yaml:"fontDir"`
	FontURL string `yaml:"fontURL"`

	EncoderPreset    string        `yaml:"encoderPreset"`
	OutputFrameRate  int           `yaml:"outputFrameRate"`
	ProgressInterval time.Duration `yaml:"progressInterval"`
	ReaderWindow     int           `yaml:"readerWindow"`
	ChromaKeyColor   string        `yaml:"chromaKeyColor"`
	MessageBuffer    int           `yaml:"messageBuffer"`

	// Websocket relay address, empty disables the relay.
	Listen string `yaml:"listen"`

	// Relay basic auth, an empty hash disables authentication.
	RelayUser         string `yaml:"relayUser"`
	RelayPasswordHash string `yaml:"relayPasswordHash"`

	ConfigDir string `yaml:"-"`
}

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.ConfigDir, "storage")
	}
	if env.FFmpegBin == "" {
		env.FFmpegBin = DefaultFFmpegBin
	}
	if env.FontDir == "" {
		env.FontDir = filepath.Join(env.ConfigDir, "fonts")
	}
	if env.EncoderPreset == "" {
		env.EncoderPreset = DefaultEncoderPreset
	}
	if env.OutputFrameRate == 0 {
		env.OutputFrameRate = DefaultOutputFrameRate
	}
	if env.ProgressInterval == 0 {
		env.ProgressInterval = DefaultProgressInterval
	}
	if env.ReaderWindow == 0 {
		env.ReaderWindow = DefaultReaderWindow
	}
	if env.ChromaKeyColor == "" {
		env.ChromaKeyColor = DefaultChromaKeyColor
	}
	if env.MessageBuffer == 0 {
		env.MessageBuffer = DefaultMessageBuffer
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (env ConfigEnv) validate() error {
	if !fileExist(env.FFmpegBin) {
		return fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, os.ErrNotExist)
	}
	if !filepath.IsAbs(env.FFmpegBin) {
		return fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.FontDir) {
		return fmt.Errorf("fontDir '%v': %w", env.FontDir, ErrPathNotAbsolute)
	}
	if env.FontURL != "" && !strings.HasPrefix(env.FontURL, "http://") &&
		!strings.HasPrefix(env.FontURL, "https://") {
		return fmt.Errorf("fontURL '%v': %w", env.FontURL, ErrInvalidValue)
	}
	if env.OutputFrameRate < 1 || env.OutputFrameRate > maxFrameRate {
		return fmt.Errorf("outputFrameRate %d: %w", env.OutputFrameRate, ErrInvalidValue)
	}
	if env.ProgressInterval < 0 {
		return fmt.Errorf("progressInterval %v: %w", env.ProgressInterval, ErrInvalidValue)
	}
	if env.ReaderWindow < 4096 {
		return fmt.Errorf("readerWindow %d: %w", env.ReaderWindow, ErrInvalidValue)
	}
	if env.MessageBuffer < 1 {
		return fmt.Errorf("messageBuffer %d: %w", env.MessageBuffer, ErrInvalidValue)
	}
	if _, err := ParseColor(env.ChromaKeyColor); err != nil {
		return fmt.Errorf("chromaKeyColor: %w", err)
	}
	if env.RelayPasswordHash != "" {
		if env.RelayUser == "" {
			return fmt.Errorf("relayUser: %w", ErrInvalidValue)
		}
		if _, err := bcrypt.Cost([]byte(env.RelayPasswordHash)); err != nil {
			return fmt.Errorf("relayPasswordHash: %w: %w", ErrInvalidValue, err)
		}
	}
	return nil
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ChromaKey returns the parsed chroma key color.
func (env ConfigEnv) ChromaKey() color.RGBA {
	c, _ := ParseColor(env.ChromaKeyColor)
	return c
}

// LogDBPath returns the path of the log database.
func (env ConfigEnv) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.StorageDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create storage directory: %v: %w", env.StorageDir, err)
	}
	return nil
}

// ParseColor parses "#rrggbb".
func ParseColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}
