package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/sessional/monoci/pkg"
	"github.com/sessional/monoci/pkg/workspace"
)

// toolSpec is one entry of TOOLS.yml: a download URL with placeholders, a
// destination below the workspace root and a pinned checksum.
type toolSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
	// MinVersion gates the tool after extraction; the binary has to report
	// at least this semver when invoked with --version.
	MinVersion string `yaml:"minVersion,omitempty"`
	VersionBin string `yaml:"versionBin,omitempty"`
}

type toolConfig struct {
	Vars  map[string]string
	Tools map[string]toolSpec
}

var fetchToolsCmd = &cobra.Command{
	Use:   "fetch-tools",
	Short: "Downloads and unpacks the pinned external tools",
	Long: `Downloads the tools listed in TOOLS.yml (uv and friends) into the
workspace .tools directory, verifies their checksums and unpacks them.
Entries that are already up to date are skipped via a stamp file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask("Loading config")
		ws, err := workspace.Discover("")
		if err != nil {
			return err
		}

		cfg, cfgData, stamps, err := getToolConfig(ws)
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading tools")
		err = downloadAndExtract(cmd, ws, cfg, cfgData, stamps)

		stampPath, jErr := ws.StatePath("tools.stamps")
		if jErr == nil {
			var stampData []byte
			stampData, jErr = json.Marshal(stamps)
			if jErr == nil {
				jErr = os.WriteFile(stampPath, stampData, os.FileMode(0660))
			}
		}
		if jErr != nil {
			pkg.PrintError(jErr.Error())
		}

		pkg.PrintTask("Done")

		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchToolsCmd)
	fetchToolsCmd.Flags().BoolP("update", "u", false, "Update checksums in TOOLS.yml")
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		// progress bars just leave a pile of newlines on the CI log
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func getToolConfig(ws *workspace.Workspace) (toolConfig, string, map[string]string, error) {
	var cfg toolConfig
	cfgPath := filepath.Join(ws.Root, "TOOLS.yml")
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "could not open file %s", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, "", nil, eris.Wrapf(err, "failed to parse %s", cfgPath)
	}

	stamps := map[string]string{}
	stampPath, err := ws.StatePath("tools.stamps")
	if err != nil {
		return cfg, "", nil, err
	}

	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return cfg, "", nil, eris.Wrapf(err, "failed to read stamps file %s", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return cfg, "", nil, eris.Wrapf(err, "failed to parse JSON file %s", stampPath)
		}
	}

	return cfg, string(cfgData), stamps, nil
}

func evalConditions(meta *toolSpec, vars map[string]string) bool {
	varMatcher := regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		value, ok := vars[varName[1:len(varName)-1]]
		if ok {
			return value
		}
		return ""
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if ok && value != "" {
			return false
		}
	}
	return true
}

func downloadAndExtract(cmd *cobra.Command, ws *workspace.Workspace, cfg toolConfig, cfgData string, stamps map[string]string) error {
	client := &http.Client{
		Timeout: time.Minute * 30,
	}
	buf := make([]byte, 4096)

	update, err := cmd.Flags().GetBool("update")
	if err != nil {
		return err
	}

	vars := cfg.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	vars["OS"] = runtime.GOOS
	vars["ARCH"] = runtime.GOARCH
	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	changes := map[string]string{}

	for name, meta := range cfg.Tools {
		// conditions are evaluated even in update mode because they also
		// substitute the URL placeholders
		skip := !evalConditions(&meta, vars)
		if skip && !update {
			continue
		}

		err = fetchTool(ws, client, buf, name, meta, skip, update, stamps, changes)
		if err != nil {
			return err
		}
	}

	if update {
		return updateChecksums(ws, cfg, cfgData, changes)
	}

	return nil
}

// fetchTool downloads, verifies and unpacks a single TOOLS.yml entry. One
// tool per call so the temp download is cleaned up before the next one
// starts.
func fetchTool(ws *workspace.Workspace, client *http.Client, buf []byte, name string, meta toolSpec,
	skip, update bool, stamps, changes map[string]string,
) error {
	destPath := filepath.Join(ws.Root, meta.Dest)
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stampToken := meta.URL + "#" + meta.Sha256
	stamp, ok := stamps[name]
	if ok && stampToken == stamp && destExists {
		return nil
	}

	pkg.PrintSubtask(name + ":  " + meta.URL)
	if meta.Sha256 == "" && !update {
		return eris.Errorf("tool %s doesn't have a checksum", name)
	}

	digest, arHandle, length, err := downloadTool(client, meta.URL, buf)
	if err != nil {
		return err
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	if digest != meta.Sha256 {
		if update {
			fmt.Println("      Updating checksum")
			changes[name] = digest
		} else {
			return eris.Errorf("checksum check failed for %s", name)
		}
	}

	if skip {
		return nil
	}

	if destExists {
		pkg.PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return err
		}
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return err
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "failed to rewind download")
	}

	bar := getProgressBar(length, "      extract")
	err = extractor(arHandle, bar, ws.Root, meta)
	if err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(ws.Root, meta.Dest, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "failed to mark %s as executable", binPath)
			}
		}
	}

	err = checkToolVersion(ws, name, meta)
	if err != nil {
		return err
	}

	stamps[name] = stampToken
	return nil
}

func downloadTool(client *http.Client, url string, buf []byte) (string, *os.File, int64, error) {
	arHandle, err := os.CreateTemp("", "monoci-tool-*.tmp")
	if err != nil {
		return "", nil, 0, eris.Wrap(err, "failed to create download file")
	}

	resp, err := client.Get(url)
	if err != nil {
		arHandle.Close()
		os.Remove(arHandle.Name())
		return "", nil, 0, eris.Wrapf(err, "failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		arHandle.Close()
		os.Remove(arHandle.Name())
		return "", nil, 0, eris.Errorf("download of %s failed with status %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download")
	for {
		n, err := resp.Body.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				break
			}
			arHandle.Close()
			os.Remove(arHandle.Name())
			return "", nil, 0, eris.Wrapf(err, "failed during download of %s", url)
		}

		_, err = hash.Write(buf[:n])
		if err != nil {
			arHandle.Close()
			os.Remove(arHandle.Name())
			return "", nil, 0, eris.Wrapf(err, "failed to calculate checksum for %s", url)
		}

		_, err = arHandle.Write(buf[:n])
		if err != nil {
			arHandle.Close()
			os.Remove(arHandle.Name())
			return "", nil, 0, eris.Wrap(err, "failed to write download to file")
		}

		bar.Write(buf[:n])
	}
	bar.Finish()

	return hex.EncodeToString(hash.Sum(nil)), arHandle, resp.ContentLength, nil
}

var versionMatcher = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// checkToolVersion runs the extracted binary with --version and compares
// the reported version against the configured minimum.
func checkToolVersion(ws *workspace.Workspace, name string, meta toolSpec) error {
	minVersion := meta.MinVersion
	if minVersion == "" && name == "uv" {
		minVersion = ws.Config.UvVersion
	}
	if minVersion == "" {
		return nil
	}

	bin := meta.VersionBin
	if bin == "" {
		bin = name
	}

	out, err := exec.Command(filepath.Join(ws.Root, meta.Dest, bin), "--version").Output()
	if err != nil {
		return eris.Wrapf(err, "failed to run %s --version", name)
	}

	raw := versionMatcher.FindString(string(out))
	if raw == "" {
		return eris.Errorf("%s --version printed no recognizable version: %s", name, strings.TrimSpace(string(out)))
	}

	have, err := semver.NewVersion(raw)
	if err != nil {
		return eris.Wrapf(err, "failed to parse version %s of %s", raw, name)
	}

	want, err := semver.NewVersion(minVersion)
	if err != nil {
		return eris.Wrapf(err, "invalid minimum version %s for %s", minVersion, name)
	}

	if have.LessThan(want) {
		return eris.Errorf("%s %s is older than the required %s", name, have, want)
	}

	return nil
}

func updateChecksums(ws *workspace.Workspace, cfg toolConfig, cfgData string, changes map[string]string) error {
	pkg.PrintTask("Updating TOOLS.yml")
	generated := cfgData
	for name, newChecksum := range changes {
		pos := strings.Index(generated, name+":\n")
		if pos == -1 {
			return eris.Errorf("failed to find the section for %s", name)
		}

		subPos := strings.Index(generated[pos:], "sha256: "+cfg.Tools[name].Sha256)
		if subPos == -1 {
			if cfg.Tools[name].Sha256 == "" {
				start := pos + len(name) + 2
				generated = generated[:start] + "    sha256: " + newChecksum + "\n" + generated[start:]
			} else {
				fmt.Printf("     Couldn't find checksum section for %s.\n", name)
			}
		} else {
			start := pos + subPos + 8
			end := start + len(cfg.Tools[name].Sha256)
			generated = generated[:start] + newChecksum + generated[end:]
		}
	}

	return os.WriteFile(filepath.Join(ws.Root, "TOOLS.yml"), []byte(generated), os.FileMode(0660))
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, string, toolSpec) error

func openExtractorDest(destPath string, item string, ts toolSpec) (*os.File, string, error) {
	// normalize the path and strip ts.Strip elements from the beginning
	pathParts := strings.Split(filepath.Clean(item), string(filepath.Separator))
	if len(pathParts) <= ts.Strip {
		return nil, "/", nil
	}
	dest := filepath.Join(destPath, strings.Join(pathParts[ts.Strip:], string(filepath.Separator)))

	if dest == destPath {
		return nil, "/", nil
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func getExtractor(url string) (archiveExtractor, error) {
	if strings.HasSuffix(url, ".zip") {
		return extractZip, nil
	}

	if strings.HasSuffix(url, ".tar.gz") {
		return func(f *os.File, bar *progressbar.ProgressBar, root string, ts toolSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, root, ts)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.bz2") {
		return func(f *os.File, bar *progressbar.ProgressBar, root string, ts toolSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, root, ts)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.xz") {
		return func(f *os.File, bar *progressbar.ProgressBar, root string, ts toolSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, root, ts)
		}, nil
	}

	return nil, eris.New("archive format not supported")
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, root string, ts toolSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)
	destPath := filepath.Join(root, ts.Dest)
	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, ts)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			destHandle.Close()
			return eris.Wrap(err, "failed to open archive entry")
		}

		err = copyEntry(destHandle, itemHandle, f, bar, buf, item.Name, dest)
		itemHandle.Close()
		destHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, root string, ts toolSpec) error {
	buf := make([]byte, 4096)
	archive := tar.NewReader(r)
	destPath := filepath.Join(root, ts.Dest)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, ts)
		if err != nil {
			return err
		}
		if destHandle == nil {
			continue
		}

		if item.Typeflag&tar.TypeSymlink == tar.TypeSymlink {
			destHandle.Close()
			err := os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		}

		os.Chmod(dest, fi.Mode())

		err = copyEntry(destHandle, archive, f, bar, buf, item.Name, dest)
		destHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func copyEntry(dest *os.File, src io.Reader, f *os.File, bar *progressbar.ProgressBar, buf []byte, itemName, destName string) error {
	for {
		n, err := src.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				return nil
			}
			return eris.Wrapf(err, "failed to read archive entry %s", itemName)
		}

		_, err = dest.Write(buf[:n])
		if err != nil {
			return eris.Wrapf(err, "failed to write extracted file %s", destName)
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}
}
