package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// ParseFlagsWithEnvVars parses the given arguments into the flag set.
// Every flag can also be specified using an environment variable that is named
// after the flag with the given prefix, e.g. VOICECHAT_SERVER_URL for -server-url.
// Flags take precedence over environment variables.
// Environment variables that carry the prefix but do not map to a flag are rejected.
func ParseFlagsWithEnvVars(flags *flag.FlagSet, envVarPrefix string, args []string) error {
	return parseFlagsWithEnv(flags, envVarPrefix, args, os.Environ())
}

func parseFlagsWithEnv(flags *flag.FlagSet, envVarPrefix string, args, environ []string) error {
	if flags.Lookup(logLevelFlagName) == nil {
		addLogLevelFlag(flags)
	}

	env := make(map[string]string, len(environ))
	for _, entry := range environ {
		if k, v, ok := strings.Cut(entry, "="); ok && strings.HasPrefix(k, envVarPrefix) {
			env[k] = v
		}
	}

	supportedEnvVars := map[string]struct{}{}
	var err error

	flags.VisitAll(func(f *flag.Flag) {
		envVarName := EnvVarName(envVarPrefix, f.Name)
		f.Usage = fmt.Sprintf("%s (%s)", f.Usage, envVarName)
		supportedEnvVars[envVarName] = struct{}{}

		if value := env[envVarName]; value != "" && err == nil {
			if e := f.Value.Set(value); e != nil {
				err = fmt.Errorf("invalid environment variable %s value provided: %w", envVarName, e)
				return
			}
			f.DefValue = value
		}
	})
	if err != nil {
		return err
	}

	for name := range env {
		if _, ok := supportedEnvVars[name]; !ok {
			return fmt.Errorf("unsupported environment variable provided: %s", name)
		}
	}

	return flags.Parse(args)
}

// EnvVarName maps a flag name to its environment variable name.
func EnvVarName(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
