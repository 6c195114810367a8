package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/roboleague/collab/files"
	"github.com/roboleague/collab/rpc"
	"github.com/roboleague/collab/session"
	"github.com/sourcegraph/jsonrpc2"
)

const sendTimeout = 10 * time.Second

var ErrNotJoined = errors.New("not joined to a workspace")

type ClientOptions struct {
	Token string
	// Name is the display name used when the token carries none.
	Name string
	// Debounce coalesces rapid edits of one file into a single update sent
	// after the file has been quiet this long. Zero sends every edit.
	Debounce time.Duration
	// OnNotify is called after a server notification has been applied.
	OnNotify   func(method string)
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a participant connection that keeps a Shell in sync with the
// server's workspace.
type Client struct {
	conn     *jsonrpc2.Conn
	shell    *Shell
	opts     ClientOptions
	log      *slog.Logger
	identity rpc.AuthResult

	mu      sync.Mutex
	teamID  string
	self    session.Participant
	joining bool
	held    []*jsonrpc2.Request
	edits   map[string]*pendingEdit
	// unacked counts updates per file that were sent or are being sent and
	// have no reply yet; updateIDs maps their request ids back to the file.
	unacked   map[string]int
	updateIDs map[jsonrpc2.ID]string
}

type pendingEdit struct {
	params rpc.UpdateParams
	timer  *time.Timer
}

// Dial connects to the websocket endpoint at url and authenticates.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: opts.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		shell: New(),
		opts:  opts,
		log:   log,
		edits:     make(map[string]*pendingEdit),
		unacked:   make(map[string]int),
		updateIDs: make(map[jsonrpc2.ID]string),
	}
	c.conn = jsonrpc2.NewConn(context.Background(), rpc.NewWebSocketStream(wsConn), clientHandler{c},
		jsonrpc2.OnSend(c.trackSent), jsonrpc2.OnRecv(c.trackAnswered))

	if err := c.conn.Call(ctx, rpc.MethodAuth, rpc.AuthParams{Token: opts.Token, Name: opts.Name}, &c.identity); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	c.log = log.With("userId", c.identity.UserID)
	return c, nil
}

func (c *Client) Shell() *Shell { return c.shell }

// Identity returns the user id and name the server assigned.
func (c *Client) Identity() rpc.AuthResult { return c.identity }

// Self returns this connection's participant entry in the joined workspace.
func (c *Client) Self() session.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Join enters a team workspace and loads its snapshot into the shell.
// Notifications that race the reply are held and applied after the snapshot.
func (c *Client) Join(ctx context.Context, teamID string) error {
	if err := c.Flush(ctx); err != nil {
		c.log.Warn("failed to flush edits before join", "error", err)
	}

	c.mu.Lock()
	c.teamID = teamID
	c.joining = true
	c.held = nil
	c.mu.Unlock()

	var result rpc.JoinResult
	err := c.conn.Call(ctx, rpc.MethodWorkspaceJoin, rpc.JoinParams{TeamID: teamID}, &result)

	c.mu.Lock()
	held := c.held
	c.held = nil
	c.joining = false
	if err != nil {
		c.teamID = ""
		c.mu.Unlock()
		return fmt.Errorf("join %s: %w", teamID, err)
	}
	c.self = result.Self
	c.shell.Reset(teamID, result.Files, result.Participants)
	for _, req := range held {
		c.apply(req)
	}
	c.mu.Unlock()

	for _, req := range held {
		c.notified(req.Method)
	}
	c.log.Info("joined workspace", "teamId", teamID, "files", len(result.Files))
	return nil
}

// Leave exits the joined workspace after flushing pending edits.
func (c *Client) Leave(ctx context.Context) error {
	if _, err := c.team(); err != nil {
		return err
	}
	if err := c.Flush(ctx); err != nil {
		c.log.Warn("failed to flush edits before leave", "error", err)
	}
	if err := c.conn.Call(ctx, rpc.MethodWorkspaceLeave, struct{}{}, nil); err != nil {
		return fmt.Errorf("leave: %w", err)
	}

	c.mu.Lock()
	c.teamID = ""
	c.self = session.Participant{}
	c.mu.Unlock()
	c.shell.Reset("", nil, nil)
	return nil
}

// Create adds a file or folder. An empty path is rejected locally with
// files.ErrEmptyPath and nothing is sent.
func (c *Client) Create(ctx context.Context, path string, kind files.Kind, content string) (files.Record, error) {
	if files.NormalizePath(path) == "" {
		return files.Record{}, files.ErrEmptyPath
	}
	teamID, err := c.team()
	if err != nil {
		return files.Record{}, err
	}

	var result rpc.CreateResult
	params := rpc.CreateParams{TeamID: teamID, Path: path, Kind: kind, Content: content}
	if err := c.conn.Call(ctx, rpc.MethodFileCreate, params, &result); err != nil {
		return files.Record{}, fmt.Errorf("create %s: %w", path, err)
	}
	if result.File == nil {
		return files.Record{}, files.ErrEmptyPath
	}
	c.shell.ApplyCreated(*result.File)
	if rec, ok := c.shell.File(result.File.ID); ok {
		return rec, nil
	}
	return *result.File, nil
}

// Edit changes a file's content locally and sends the update, right away or
// after the debounce window. Remote updates to the file are ignored until the
// server has answered the local one, since the server applied them earlier.
func (c *Client) Edit(ctx context.Context, fileID, content string) error {
	c.mu.Lock()
	params, ok := c.shell.Edit(fileID, content)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if c.opts.Debounce <= 0 {
		c.unacked[fileID]++
		c.mu.Unlock()
		return c.sendUpdate(ctx, params)
	}

	defer c.mu.Unlock()
	if p, ok := c.edits[fileID]; ok {
		p.params = params
		p.timer.Reset(c.opts.Debounce)
		return nil
	}
	c.edits[fileID] = &pendingEdit{
		params: params,
		timer:  time.AfterFunc(c.opts.Debounce, func() { c.flushEdit(fileID) }),
	}
	return nil
}

// Flush sends every debounced edit now.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := make([]rpc.UpdateParams, 0, len(c.edits))
	for id, p := range c.edits {
		p.timer.Stop()
		pending = append(pending, p.params)
		delete(c.edits, id)
		c.unacked[id]++
	}
	c.mu.Unlock()

	var errs []error
	for _, params := range pending {
		if err := c.sendUpdate(ctx, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) flushEdit(fileID string) {
	c.mu.Lock()
	p, ok := c.edits[fileID]
	if ok {
		delete(c.edits, fileID)
		c.unacked[fileID]++
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.sendUpdate(ctx, p.params); err != nil {
		c.log.Warn("failed to send debounced edit", "fileId", fileID, "error", err)
	}
}

// sendUpdate sends an edit already counted in unacked.
func (c *Client) sendUpdate(ctx context.Context, params rpc.UpdateParams) error {
	if err := c.conn.Call(ctx, rpc.MethodFileUpdate, params, nil); err != nil {
		return fmt.Errorf("update %s: %w", params.FileID, err)
	}
	return nil
}

// trackSent records which file an outgoing update request is for.
func (c *Client) trackSent(req *jsonrpc2.Request, _ *jsonrpc2.Response) {
	if req == nil || req.Method != rpc.MethodFileUpdate || req.Params == nil {
		return
	}
	var p rpc.UpdateParams
	if err := json.Unmarshal(*req.Params, &p); err != nil {
		return
	}
	c.mu.Lock()
	c.updateIDs[req.ID] = p.FileID
	c.mu.Unlock()
}

// trackAnswered runs on the read loop ahead of any later notification, so
// a remote update read after the reply is applied.
func (c *Client) trackAnswered(_ *jsonrpc2.Request, resp *jsonrpc2.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fileID, ok := c.updateIDs[resp.ID]
	if !ok {
		return
	}
	delete(c.updateIDs, resp.ID)
	if c.unacked[fileID] <= 1 {
		delete(c.unacked, fileID)
	} else {
		c.unacked[fileID]--
	}
}

// Delete removes a record. Folders take everything below them along.
func (c *Client) Delete(ctx context.Context, fileID string) ([]string, error) {
	return c.delete(ctx, rpc.DeleteParams{FileID: fileID})
}

// DeleteFolder removes a folder by path, whether or not it has its own record.
func (c *Client) DeleteFolder(ctx context.Context, folderPath string) ([]string, error) {
	if files.NormalizePath(folderPath) == "" {
		return nil, files.ErrEmptyPath
	}
	params := rpc.DeleteParams{Path: folderPath}
	if n := Find(c.shell.Tree(), folderPath); n != nil && n.IsFolder() && !n.Virtual {
		params = rpc.DeleteParams{FileID: n.FileID}
	}
	return c.delete(ctx, params)
}

func (c *Client) delete(ctx context.Context, params rpc.DeleteParams) ([]string, error) {
	teamID, err := c.team()
	if err != nil {
		return nil, err
	}
	params.TeamID = teamID

	var result rpc.DeleteResult
	if err := c.conn.Call(ctx, rpc.MethodFileDelete, params, &result); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	c.dropEdits(result.Deleted)
	c.shell.ApplyDeleted(result.Deleted)
	return result.Deleted, nil
}

// Open makes a file the active tab and tells the others.
func (c *Client) Open(ctx context.Context, fileID string) error {
	if !c.shell.Open(fileID) {
		return nil
	}
	return c.Focus(ctx, fileID)
}

func (c *Client) Focus(ctx context.Context, fileID string) error {
	teamID, err := c.team()
	if err != nil {
		return err
	}
	if err := c.conn.Call(ctx, rpc.MethodFileFocus, rpc.FocusParams{TeamID: teamID, FileID: fileID}, nil); err != nil {
		return fmt.Errorf("focus %s: %w", fileID, err)
	}
	return nil
}

// Close drops pending edits and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	for id, p := range c.edits {
		p.timer.Stop()
		delete(c.edits, id)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) team() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.teamID == "" {
		return "", ErrNotJoined
	}
	return c.teamID, nil
}

func (c *Client) dropEdits(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if p, ok := c.edits[id]; ok {
			p.timer.Stop()
			delete(c.edits, id)
		}
	}
}

func (c *Client) notified(method string) {
	if c.opts.OnNotify != nil {
		c.opts.OnNotify(method)
	}
}

// clientHandler receives server notifications on the read loop.
type clientHandler struct {
	c *Client
}

func (h clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif {
		conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "client accepts notifications only"})
		return
	}
	c := h.c

	c.mu.Lock()
	if c.joining {
		c.held = append(c.held, req)
		c.mu.Unlock()
		return
	}
	applied := c.apply(req)
	c.mu.Unlock()

	if applied {
		c.notified(req.Method)
	}
}

// apply updates the shell from one notification. Notifications for another
// workspace are dropped. Caller must hold c.mu.
func (c *Client) apply(req *jsonrpc2.Request) bool {
	if req.Params == nil {
		return false
	}
	raw := *req.Params

	var scope struct {
		TeamID string `json:"team_id"`
	}
	if err := json.Unmarshal(raw, &scope); err != nil || scope.TeamID == "" || scope.TeamID != c.teamID {
		return false
	}

	var err error
	switch req.Method {
	case rpc.NotifyFileCreated:
		var p rpc.FileCreatedParams
		if err = json.Unmarshal(raw, &p); err == nil {
			c.shell.ApplyCreated(p.File)
		}
	case rpc.NotifyFileUpdated:
		var p rpc.FileUpdatedParams
		if err = json.Unmarshal(raw, &p); err == nil {
			// The server applied this before any local edit still pending or
			// awaiting its reply, and that edit wins; keep showing it.
			if _, mine := c.edits[p.FileID]; !mine && c.unacked[p.FileID] == 0 {
				c.shell.ApplyUpdated(p.FileID, p.Content)
			}
		}
	case rpc.NotifyFileDeleted:
		var p rpc.FileDeletedParams
		if err = json.Unmarshal(raw, &p); err == nil {
			for _, id := range p.FileIDs {
				if e, ok := c.edits[id]; ok {
					e.timer.Stop()
					delete(c.edits, id)
				}
			}
			c.shell.ApplyDeleted(p.FileIDs)
		}
	case rpc.NotifyFileFocused:
		var p rpc.FileFocusedParams
		if err = json.Unmarshal(raw, &p); err == nil {
			c.shell.ApplyFocus(p.Participant)
		}
	case rpc.NotifyParticipants:
		var p rpc.ParticipantsParams
		if err = json.Unmarshal(raw, &p); err == nil {
			c.shell.SetParticipants(p.Participants)
		}
	default:
		return false
	}
	if err != nil {
		c.log.Warn("failed to decode notification", "method", req.Method, "error", err)
		return false
	}
	return true
}
