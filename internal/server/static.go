package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"jardeploy/internal/packer"
	"jardeploy/internal/security"
)

// Content types of the deploy tree.
const (
	ContentTypeJar  = "application/x-java-archive"
	ContentTypeJNLP = "application/x-java-jnlp-file"
	ContentTypePack = "application/x-java-pack200"
	EncodingPack200 = "pack200-gzip"
)

// JarFileServer serves the deployed jar tree the way Java Web Start
// expects: a jar request from a client accepting pack200-gzip is answered
// with the .pack.gz companion when one exists. Directory listings are not
// served.
type JarFileServer struct {
	Root string
}

// NewJarFileServer serves files below root.
func NewJarFileServer(root string) *JarFileServer {
	return &JarFileServer{Root: root}
}

func (fs *JarFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + r.URL.Path)
	full, err := security.PathWithin(fs.Root, filepath.Join(fs.Root, filepath.FromSlash(rel)))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if strings.HasSuffix(rel, ".jar") {
		w.Header().Add("Vary", "Accept-Encoding")
		if acceptsPack200(r) && fs.serveFile(w, r, full+packer.CompanionExt, ContentTypeJar, EncodingPack200) {
			return
		}
	}

	if !fs.serveFile(w, r, full, contentType(rel), "") {
		http.NotFound(w, r)
	}
}

// serveFile reports false when name is missing or a directory.
func (fs *JarFileServer) serveFile(w http.ResponseWriter, r *http.Request, name, ctype, encoding string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	if ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	if encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func acceptsPack200(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept-Encoding") {
		for _, enc := range strings.Split(v, ",") {
			enc, _, _ = strings.Cut(strings.TrimSpace(enc), ";")
			if strings.EqualFold(enc, EncodingPack200) {
				return true
			}
		}
	}
	return false
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, packer.CompanionExt):
		return ContentTypePack
	case strings.HasSuffix(name, ".jar"):
		return ContentTypeJar
	case strings.HasSuffix(name, ".jnlp"):
		return ContentTypeJNLP
	}
	// Let ServeContent sniff the rest.
	return ""
}
