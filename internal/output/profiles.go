package output

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws/defaults"
	"gopkg.in/ini.v1"
)

// profileSource is one of the AWS shared files that can define profiles.
// Sections in the config file are named "profile <name>"; the credentials
// file uses the bare name.
type profileSource struct {
	envVar     string
	fallback   func() string
	namePrefix string
}

func sharedProfileSources() []profileSource {
	return []profileSource{
		{envVar: "AWS_SHARED_CREDENTIALS_FILE", fallback: defaults.SharedCredentialsFilename},
		{envVar: "AWS_CONFIG_FILE", fallback: defaults.SharedConfigFilename, namePrefix: "profile "},
	}
}

// Profiles returns the AWS profiles usable by the cloudwatch target. The
// boolean reports whether any shared file existed at all: on a host where
// credentials come from the environment or instance metadata there is
// nothing to enumerate, and that is not an error.
func Profiles() ([]string, bool, error) {
	seen := make(map[string]struct{})
	anyFile := false

	for _, src := range sharedProfileSources() {
		path := os.Getenv(src.envVar)
		if path == "" {
			path = src.fallback()
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		anyFile = true

		file, err := ini.Load(path)
		if err != nil {
			return nil, anyFile, fmt.Errorf("failed to load %s: %w", path, err)
		}
		for _, section := range file.Sections() {
			name := section.Name()
			if name == "DEFAULT" || name == ini.DefaultSection {
				continue
			}
			seen[strings.TrimPrefix(name, src.namePrefix)] = struct{}{}
		}
	}

	result := make([]string, 0, len(seen))
	for name := range seen {
		result = append(result, name)
	}
	sort.Strings(result)

	return result, anyFile, nil
}

// ValidateProfile checks the profile the cloudwatch target is configured
// with before a session is built, so a typo surfaces as a clear startup
// error instead of an opaque credentials failure on the first flush. A
// host without shared AWS files passes validation; the SDK then resolves
// credentials from the environment.
func ValidateProfile(name string) error {
	if name == "" {
		return nil
	}
	profiles, anyFile, err := Profiles()
	if err != nil {
		return err
	}
	if !anyFile {
		return nil
	}
	for _, p := range profiles {
		if p == name {
			return nil
		}
	}
	return fmt.Errorf("AWS profile %q not found (available: %s)", name, strings.Join(profiles, ", "))
}
