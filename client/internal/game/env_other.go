//go:build !linux

package game

func platformEnv(_ string, _ LaunchOptions) []string {
	return nil
}
