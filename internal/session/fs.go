package session

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/anggakawa/teledocker/internal/pathguard"
	"github.com/anggakawa/teledocker/protocol"
)

// Upload places a file into the session workspace and returns the absolute
// path it landed at. The destination is confined to the workspace before
// anything crosses the wire.
func (m *Manager) Upload(ctx context.Context, id, filename string, content []byte) (string, error) {
	if len(content) > protocol.MaxFileBytes {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(content), protocol.MaxFileBytes)
	}
	if _, err := pathguard.Confine(protocol.WorkspacePath, filename); err != nil {
		return "", err
	}

	sess, err := m.activate(ctx, id)
	if err != nil {
		return "", err
	}

	req := &protocol.Request{
		ID:     uuid.NewString(),
		Method: protocol.MethodUploadFile,
		Params: protocol.Params{
			Filename:      filename,
			ContentBase64: base64.StdEncoding.EncodeToString(content),
		},
	}
	result, err := m.bridge.Call(ctx, sess.ContainerName, req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	m.touch(id)
	return result.Path, nil
}

// Download fetches a workspace file, returning its confined absolute path
// and contents.
func (m *Manager) Download(ctx context.Context, id, path string) (string, []byte, error) {
	confined, err := pathguard.Confine(protocol.WorkspacePath, path)
	if err != nil {
		return "", nil, err
	}

	sess, err := m.activate(ctx, id)
	if err != nil {
		return "", nil, err
	}

	req := &protocol.Request{
		ID:     uuid.NewString(),
		Method: protocol.MethodDownloadFile,
		Params: protocol.Params{Path: path},
	}
	result, err := m.bridge.Call(ctx, sess.ContainerName, req)
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}

	content, err := base64.StdEncoding.DecodeString(result.ContentBase64)
	if err != nil {
		return "", nil, fmt.Errorf("decode download: %w", err)
	}

	m.touch(id)
	if result.Path != "" {
		confined = result.Path
	}
	return confined, content, nil
}
