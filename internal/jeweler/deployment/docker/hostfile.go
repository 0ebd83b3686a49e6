package docker

import "os"

// readHostFile and writeHostFile touch the real host filesystem directly
// (not the vault's afero.Fs) since these paths point at manifest config
// files and volume archives living outside the vault's own storage tree.
func readHostFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeHostFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
