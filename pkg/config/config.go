package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// Known valid field names for each config section type
var (
	// Top-level reserved keys (not network profile names)
	reservedKeys = map[string]bool{
		"timeouts": true,
		"tests":    true,
	}

	// Valid fields for TimeoutConfig
	validTimeoutFields = map[string]bool{
		"association":   true,
		"dhcp":          true,
		"command":       true,
		"carrier":       true,
		"spawn_grace":   true,
		"poll_interval": true,
		"teardown":      true,
	}

	// Valid fields for TestConfig
	validTestFields = map[string]bool{
		"ping_targets": true,
		"ping_count":   true,
		"iperf":        true,
	}

	// Valid fields for IperfConfig
	validIperfFields = map[string]bool{
		"server":    true,
		"port":      true,
		"protocol":  true,
		"duration":  true,
		"bandwidth": true,
		"parallel":  true,
		"reverse":   true,
	}

	// Valid fields for NetworkProfile
	validProfileFields = map[string]bool{
		"device":   true,
		"ssid":     true,
		"password": true,
		"hidden":   true,
		"mac":      true,
		"vrf":      true,
	}
)

// ValidationError represents a config validation error with suggestions
type ValidationError struct {
	Section    string
	Field      string
	Suggestion string
}

func (e ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown field '%s' in %s (did you mean '%s'?)", e.Field, e.Section, e.Suggestion)
	}
	return fmt.Sprintf("unknown field '%s' in %s", e.Field, e.Section)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "config validation errors:\n  - " + strings.Join(msgs, "\n  - ")
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(a, b string) int {
	a = strings.ToLower(a)
	b = strings.ToLower(b)

	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,
				matrix[i][j-1]+1,
				matrix[i-1][j-1]+cost,
			)
		}
	}
	return matrix[len(a)][len(b)]
}

// findSimilarField finds the most similar valid field name
func findSimilarField(field string, validFields map[string]bool) string {
	bestMatch := ""
	bestDistance := 3 // Max distance to consider as a typo

	for valid := range validFields {
		dist := levenshteinDistance(field, valid)
		if dist < bestDistance {
			bestDistance = dist
			bestMatch = valid
		} else if dist == bestDistance && bestMatch != "" {
			// If distance is equal, prefer shorter field name
			// or alphabetically first if same length
			if len(valid) < len(bestMatch) || (len(valid) == len(bestMatch) && valid < bestMatch) {
				bestMatch = valid
			}
		}
	}
	return bestMatch
}

// validateFields checks for unknown fields in a map against valid fields
func validateFields(section string, data map[string]interface{}, validFields map[string]bool) []ValidationError {
	var errors []ValidationError

	for field := range data {
		if !validFields[field] {
			suggestion := findSimilarField(field, validFields)
			errors = append(errors, ValidationError{
				Section:    section,
				Field:      field,
				Suggestion: suggestion,
			})
		}
	}
	return errors
}

// ValidateConfigFile validates a config file for unknown/misspelled fields
func ValidateConfigFile(path string) ValidationErrors {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil // File read errors handled elsewhere
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil // Parse errors handled elsewhere
	}

	return validateRawConfig(raw)
}

// validateRawConfig validates a raw config map for unknown fields
func validateRawConfig(raw map[string]interface{}) ValidationErrors {
	var errors ValidationErrors

	for key, value := range raw {
		switch key {
		case "timeouts":
			if timeoutMap, ok := value.(map[string]interface{}); ok {
				errors = append(errors, validateFields("timeouts", timeoutMap, validTimeoutFields)...)
			}
		case "tests":
			if testMap, ok := value.(map[string]interface{}); ok {
				errors = append(errors, validateFields("tests", testMap, validTestFields)...)
				if iperfMap, ok := testMap["iperf"].(map[string]interface{}); ok {
					errors = append(errors, validateFields("tests.iperf", iperfMap, validIperfFields)...)
				}
			}
		default:
			// Any other top-level key is a named network profile
			if profileMap, ok := value.(map[string]interface{}); ok {
				errs := validateFields(fmt.Sprintf("profile '%s'", key), profileMap, validProfileFields)
				errors = append(errors, errs...)
			}
		}
	}

	return errors
}

// Manager loads and serves the YAML configuration
type Manager struct {
	config     *types.Config
	logger     types.Logger
	viper      *viper.Viper
	configPath string
}

// NewManager creates a new config manager
func NewManager(logger types.Logger) *Manager {
	return &Manager{
		logger: logger,
	}
}

// LoadConfig loads configuration from the specified path
func (m *Manager) LoadConfig(path string) (*types.Config, error) {
	if m.logger != nil {
		m.logger.Debug("LoadConfig called", "path", path)
	}

	if path == "-" {
		// No config file
		if m.logger != nil {
			m.logger.Debug("Using no config file (path='-')")
		}
		m.config = &types.Config{
			Networks: make(map[string]types.NetworkProfile),
		}
		return m.config, nil
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
		if m.logger != nil {
			m.logger.Debug("Expanded ~ path", "expandedPath", path)
		}
	}

	// Default to ~/.wifitest/config.yaml if no path specified
	if path == "" {
		var home string
		var err error

		// Handle sudo execution: use SUDO_USER's home directory instead of root
		// This must come BEFORE checking HOME, because sudo sets HOME=/root
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			if m.logger != nil {
				m.logger.Debug("Running with sudo", "sudoUser", sudoUser)
			}
			if sudoUser == "root" {
				home = "/root"
			} else {
				home = filepath.Join("/home", sudoUser)
			}
		} else if envHome := os.Getenv("HOME"); envHome != "" {
			// Use HOME if not running with sudo (for testing and normal execution)
			home = envHome
		} else {
			// Fallback to os.UserHomeDir()
			home, err = os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
		}
		path = filepath.Join(home, ".wifitest", "config.yaml")
		if m.logger != nil {
			m.logger.Debug("Using default config path", "path", path)
		}
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, return empty config
		if m.logger != nil {
			m.logger.Debug("Config file does not exist, returning empty config", "path", path)
		}
		m.config = &types.Config{
			Networks: make(map[string]types.NetworkProfile),
		}
		return m.config, nil
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Set config type to yaml for files that might not have standard extensions
	if filepath.Ext(path) == ".example" || filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Validate config for unknown/misspelled fields
	if validationErrors := ValidateConfigFile(path); len(validationErrors) > 0 {
		return nil, validationErrors
	}

	var config types.Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Networks == nil {
		config.Networks = make(map[string]types.NetworkProfile)
	}

	// Store viper and path for lazy loading profiles
	m.viper = v
	m.configPath = path
	m.config = &config

	// Load all network profiles upfront (mapstructure ,inline doesn't work with viper).
	// Profiles are all top-level keys that aren't reserved (timeouts, tests)
	allKeys := v.AllKeys()
	seenProfiles := make(map[string]bool)
	for _, key := range allKeys {
		topKey := key
		if idx := strings.Index(key, "."); idx != -1 {
			topKey = key[:idx]
		}

		if reservedKeys[topKey] || seenProfiles[topKey] {
			continue
		}
		seenProfiles[topKey] = true

		if v.IsSet(topKey) {
			subV := v.Sub(topKey)
			if subV != nil {
				var profile types.NetworkProfile
				if err := subV.Unmarshal(&profile); err == nil {
					config.Networks[topKey] = profile
					if m.logger != nil {
						m.logger.Debug("Loaded network profile", "profile", topKey)
					}
				}
			}
		}
	}

	// Warn about plain text credentials after successful load
	m.WarnAboutPlainTextCredentials()

	return &config, nil
}

// GetProfile returns the named network profile
func (m *Manager) GetProfile(name string) (*types.NetworkProfile, error) {
	if m.config == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	// Check if already loaded in cache
	if profile, exists := m.config.Networks[name]; exists {
		m.logger.Debug("Network profile from cache", "profile", name, "ssid", profile.SSID)
		return &profile, nil
	}

	// Lazy load the specific profile from viper
	if m.viper == nil || !m.viper.IsSet(name) {
		return nil, fmt.Errorf("network profile '%s' not found", name)
	}

	var profile types.NetworkProfile
	subV := m.viper.Sub(name)
	if subV == nil {
		return nil, fmt.Errorf("failed to read network profile '%s'", name)
	}

	if err := subV.Unmarshal(&profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal network profile '%s': %w", name, err)
	}

	// Cache it for next time
	m.config.Networks[name] = profile
	m.logger.Debug("Loaded network profile", "profile", name, "ssid", profile.SSID)

	return &profile, nil
}

// GetConfig returns the loaded configuration
func (m *Manager) GetConfig() *types.Config {
	return m.config
}

// WarnAboutPlainTextCredentials checks the loaded config for plain text
// credentials and logs warnings about security implications.
//
// Security note: storing passphrases in plain text config files poses risks.
// Consider:
//   - Using file permissions (chmod 600) to restrict access to config files
//   - Passing the passphrase on the command line of a dedicated test harness
//     user instead of committing it to a shared file
func (m *Manager) WarnAboutPlainTextCredentials() {
	if m.config == nil || m.logger == nil {
		return
	}

	for name, profile := range m.config.Networks {
		if profile.Password != "" {
			m.logger.Warn("WiFi password for profile is stored in plain text",
				"profile", name,
				"suggestion", "Consider using file permissions (chmod 600) to protect your config file")
		}
	}
}
