package jobs

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	MinTextPromptLen  = 10
	MaxTextPromptLen  = 1000
	MinImagePromptLen = 5
	MaxImagePromptLen = 500
	MinDuration       = 3
	MaxDuration       = 30
	DefaultDuration   = 5
	MaxImageSize      = 10 << 20
)

var (
	AspectRatios      = []string{"16:9", "9:16", "1:1", "4:3", "21:9"}
	Styles            = []string{"realistic", "anime", "cartoon", "cinematic", "artistic", "3d"}
	Qualities         = []string{"standard", "high", "ultra"}
	MotionIntensities = []string{"low", "medium", "high"}
	CameraMovements   = []string{"static", "pan", "zoom", "rotate", "tracking"}
	ImageExtensions   = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}
)

type TextInput struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Style       string `json:"style,omitempty"`
	Quality     string `json:"quality,omitempty"`
}

// Normalize trims the prompt and fills unset options with their defaults.
func (in TextInput) Normalize() TextInput {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.AspectRatio == "" {
		in.AspectRatio = "16:9"
	}
	if in.Style == "" {
		in.Style = "realistic"
	}
	if in.Quality == "" {
		in.Quality = "high"
	}
	return in
}

func (in TextInput) Validate() error {
	if err := checkPrompt(in.Prompt, MinTextPromptLen, MaxTextPromptLen); err != nil {
		return err
	}
	if err := checkDuration(in.Duration); err != nil {
		return err
	}
	if err := oneOf("aspect_ratio", in.AspectRatio, AspectRatios); err != nil {
		return err
	}
	if err := oneOf("style", in.Style, Styles); err != nil {
		return err
	}
	return oneOf("quality", in.Quality, Qualities)
}

func (in TextInput) fields() map[string]any {
	return map[string]any{
		"prompt":       in.Prompt,
		"duration":     in.Duration,
		"aspect_ratio": in.AspectRatio,
		"style":        in.Style,
		"quality":      in.Quality,
	}
}

type ImageInput struct {
	Prompt          string `json:"prompt"`
	Duration        int    `json:"duration,omitempty"`
	MotionIntensity string `json:"motion_intensity,omitempty"`
	CameraMovement  string `json:"camera_movement,omitempty"`
	Filename        string `json:"-"`
	Image           []byte `json:"-"`
}

func (in ImageInput) Normalize() ImageInput {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Duration == 0 {
		in.Duration = DefaultDuration
	}
	if in.MotionIntensity == "" {
		in.MotionIntensity = "medium"
	}
	if in.CameraMovement == "" {
		in.CameraMovement = "static"
	}
	return in
}

func (in ImageInput) Validate() error {
	if len(in.Image) == 0 {
		return &ValidationError{Field: "image", Reason: "is required"}
	}
	if len(in.Image) > MaxImageSize {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("exceeds %d MB", MaxImageSize>>20)}
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if !slices.Contains(ImageExtensions, ext) {
		return &ValidationError{Field: "image", Reason: fmt.Sprintf("must be one of %s", strings.Join(ImageExtensions, ", "))}
	}
	if err := checkPrompt(in.Prompt, MinImagePromptLen, MaxImagePromptLen); err != nil {
		return err
	}
	if err := checkDuration(in.Duration); err != nil {
		return err
	}
	if err := oneOf("motion_intensity", in.MotionIntensity, MotionIntensities); err != nil {
		return err
	}
	return oneOf("camera_movement", in.CameraMovement, CameraMovements)
}

func (in ImageInput) fields() map[string]any {
	return map[string]any{
		"prompt":           in.Prompt,
		"duration":         in.Duration,
		"motion_intensity": in.MotionIntensity,
		"camera_movement":  in.CameraMovement,
		"image_name":       filepath.Base(in.Filename),
	}
}

func checkPrompt(prompt string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(prompt)
	switch {
	case n == 0:
		return &ValidationError{Field: "prompt", Reason: "is required"}
	case n < minLen:
		return &ValidationError{Field: "prompt", Reason: fmt.Sprintf("must be at least %d characters", minLen)}
	case n > maxLen:
		return &ValidationError{Field: "prompt", Reason: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	return nil
}

func checkDuration(d int) error {
	if d < MinDuration || d > MaxDuration {
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("must be between %d and %d seconds", MinDuration, MaxDuration)}
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	if !slices.Contains(allowed, value) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
	}
	return nil
}
