package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the platform default shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var envMu sync.Mutex

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The value of ONNXRUNTIME_SHARED_LIBRARY_PATH when set, otherwise the bundled
//     library under third_party/.
//   - error: An error when the platform has no bundled library.
func GetSharedLibPath() (string, error) {
	if path := os.Getenv(LibraryPathEnv); path != "" {
		return path, nil
	}

	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "third_party/libonnxruntime.1.21.0.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}

	return "", errors.Errorf("no onnxruntime library for %s/%s, set %s", runtime.GOOS, runtime.GOARCH, LibraryPathEnv)
}

// InitializeEnvironment loads the shared library and prepares the runtime. It is a no-op when
// the runtime is already initialized.
//
// Arguments:
//   - libPath: The shared library. Empty selects GetSharedLibPath.
//   - verbose: Enables verbose native logging.
//
// Returns:
//   - error: An error if the library is missing or fails to initialize.
func InitializeEnvironment(libPath string, verbose bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath == "" {
		var err error
		if libPath, err = GetSharedLibPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	if verbose {
		ort.SetEnvironmentLogLevel(ort.LoggingLevelVerbose)
	}
	ort.SetSharedLibraryPath(libPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize onnxruntime environment")
	}
	return nil
}

// DestroyEnvironment releases the runtime once every session is closed.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
