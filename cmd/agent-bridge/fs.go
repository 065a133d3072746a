package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anggakawa/teledocker/internal/pathguard"
	"github.com/anggakawa/teledocker/protocol"
)

// handleUploadFile writes a base64 payload into the workspace. The
// containment check runs on the daemon before sending and again here,
// against the filesystem the bridge actually writes to.
func (s *server) handleUploadFile(fw *frameWriter, req protocol.Request) {
	content, err := base64.StdEncoding.DecodeString(req.Params.ContentBase64)
	if err != nil {
		fw.fail(req.ID, "decode content: "+err.Error())
		return
	}
	if len(content) > protocol.MaxFileBytes {
		fw.fail(req.ID, fmt.Sprintf("file too large: %d bytes (max %d)", len(content), protocol.MaxFileBytes))
		return
	}

	target, err := pathguard.Confine(s.workspace, req.Params.Filename)
	if err != nil {
		fw.fail(req.ID, err.Error())
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		fw.fail(req.ID, "create parent dir: "+err.Error())
		return
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		fw.fail(req.ID, "write file: "+err.Error())
		return
	}

	fw.result(req.ID, &protocol.Result{Path: target, Size: int64(len(content))})
}

func (s *server) handleDownloadFile(fw *frameWriter, req protocol.Request) {
	target, err := pathguard.Confine(s.workspace, req.Params.Path)
	if err != nil {
		fw.fail(req.ID, err.Error())
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			fw.fail(req.ID, "file not found: "+req.Params.Path)
			return
		}
		fw.fail(req.ID, "stat file: "+err.Error())
		return
	}
	if info.IsDir() {
		fw.fail(req.ID, "not a regular file: "+req.Params.Path)
		return
	}
	if info.Size() > protocol.MaxFileBytes {
		fw.fail(req.ID, fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), protocol.MaxFileBytes))
		return
	}

	content, err := os.ReadFile(target)
	if err != nil {
		fw.fail(req.ID, "read file: "+err.Error())
		return
	}

	fw.result(req.ID, &protocol.Result{
		Path:          target,
		Size:          int64(len(content)),
		ContentBase64: base64.StdEncoding.EncodeToString(content),
	})
}
