package logger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ncobase/msst/logging/logger/config"
	"github.com/sirupsen/logrus"
)

// Query parameters that make a presigned URL a bearer credential.
// AWS SigV4 and the legacy V2 form are both covered.
var defaultValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(X-Amz-Signature=)[^&\s"']+`),
	regexp.MustCompile(`(?i)(X-Amz-Credential=)[^&\s"']+`),
	regexp.MustCompile(`(?i)(X-Amz-Security-Token=)[^&\s"']+`),
	regexp.MustCompile(`([?&]Signature=)[^&\s"']+`),
}

// Desensitizer handles sensitive data masking in log fields
type Desensitizer struct {
	config   *config.Desensitization
	patterns []*regexp.Regexp
	mask     string
}

// NewDesensitizer creates a new desensitizer instance
func NewDesensitizer(cfg *config.Desensitization) *Desensitizer {
	if cfg == nil {
		cfg = config.DefaultDesensitization()
	}
	d := &Desensitizer{
		config:   cfg,
		patterns: append([]*regexp.Regexp{}, defaultValuePatterns...),
		mask:     strings.Repeat(cfg.MaskChar, cfg.FixedMaskLength),
	}

	// Custom patterns mask the whole match
	for _, pattern := range cfg.CustomPatterns {
		if regex, err := regexp.Compile(pattern); err == nil {
			d.patterns = append(d.patterns, regex)
		}
	}

	return d
}

// DesensitizeFields processes log fields and masks sensitive data
func (d *Desensitizer) DesensitizeFields(fields logrus.Fields) logrus.Fields {
	if !d.config.Enabled {
		return fields
	}

	result := make(logrus.Fields, len(fields))
	for key, value := range fields {
		result[key] = d.desensitizeValue(key, value)
	}
	return result
}

func (d *Desensitizer) desensitizeValue(key string, value any) any {
	if value == nil {
		return nil
	}
	if d.isSensitiveField(key) {
		return d.mask
	}

	switch v := value.(type) {
	case string:
		return d.DesensitizeString(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = d.DesensitizeString(s)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			if d.isSensitiveField(k) {
				out[k] = d.mask
				continue
			}
			out[k] = d.DesensitizeString(s)
		}
		return out
	case error:
		return d.DesensitizeString(v.Error())
	case fmt.Stringer:
		return d.DesensitizeString(v.String())
	default:
		return value
	}
}

// isSensitiveField checks if field name contains sensitive keywords
func (d *Desensitizer) isSensitiveField(fieldName string) bool {
	if fieldName == "" {
		return false
	}

	lowerName := strings.ToLower(fieldName)
	for _, sensitiveField := range d.config.SensitiveFields {
		lowerSensitiveField := strings.ToLower(sensitiveField)
		if d.config.ExactFieldMatch {
			if lowerName == lowerSensitiveField {
				return true
			}
		} else if strings.Contains(lowerName, lowerSensitiveField) {
			return true
		}
	}
	return false
}

// DesensitizeString masks signatures and credentials embedded in str.
func (d *Desensitizer) DesensitizeString(str string) string {
	if str == "" || !d.config.Enabled {
		return str
	}

	result := str
	for _, pattern := range d.patterns {
		if !pattern.MatchString(result) {
			continue
		}
		if pattern.NumSubexp() > 0 {
			result = pattern.ReplaceAllString(result, "${1}"+d.mask)
		} else {
			result = pattern.ReplaceAllString(result, d.mask)
		}
	}
	return result
}

// desensitizeHook applies the desensitizer to every entry before formatting
type desensitizeHook struct {
	d *Desensitizer
}

// Levels returns all log levels
func (h *desensitizeHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire masks entry data and message in place
func (h *desensitizeHook) Fire(entry *logrus.Entry) error {
	entry.Data = h.d.DesensitizeFields(entry.Data)
	entry.Message = h.d.DesensitizeString(entry.Message)
	return nil
}
