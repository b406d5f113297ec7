package localbase

import (
	"errors"
	"strings"
	"testing"
)

func TestClient_wiring(t *testing.T) {
	db := setup(t)
	c := NewClient(db, ClientOptions{
		Auth:  AuthOptions{RedirectTo: "/me"},
		Files: FileStorageOptions{PublicURL: "https://cdn.example.com/x.mp4"},
	})

	var events []AuthEvent
	c.Auth.OnAuthStateChange(func(event AuthEvent, sess *Session) {
		events = append(events, event)
	})
	res := must(c.Auth.SignIn("github"))
	deepEqual(t, res.RedirectTo, "/me")
	deepEqual(t, events, []AuthEvent{SignedOut, SignedIn})

	var log changeLog
	ch := c.Channel("videos").On(ChangeFilter{Table: "videos"}, log.add).Subscribe()
	row := must(c.From("videos").Insert(Record{"user_id": res.Session.User.ID})).Data[0]
	deepEqual(t, log, changeLog{"INSERT videos " + row.ID()})
	c.RemoveChannel(ch)

	up := must(c.Storage.From("videos").Upload("a.mp4", strings.NewReader("data"), UploadOptions{}))
	deepEqual(t, up.FullPath, "videos/a.mp4")
	deepEqual(t, c.Storage.From("videos").GetPublicURL("a.mp4"), "https://cdn.example.com/x.mp4")
	if !c.Realtime.Live() {
		t.Errorf("realtime should be live by default")
	}
}

func TestClient_close(t *testing.T) {
	c := NewClient(setup(t), ClientOptions{})
	ch := c.Channel("c").Subscribe()
	ensure(c.Close())
	deepEqual(t, ch.State(), ChannelClosed)
	_, err := c.From("t").Fetch()
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Fetch after Close = %v, wanted ErrClosed", err)
	}
}
