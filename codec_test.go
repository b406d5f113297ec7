package localbase

import (
	"testing"
)

func TestCodecByName(t *testing.T) {
	deepEqual(t, must(CodecByName("")).Name(), "json")
	deepEqual(t, must(CodecByName("json")).Name(), "json")
	deepEqual(t, must(CodecByName("msgpack")).Name(), "msgpack")
	if _, err := CodecByName("xml"); err == nil {
		t.Errorf("CodecByName(xml) succeeded, wanted error")
	}
}

func TestCodec_rowsRoundTrip(t *testing.T) {
	rows := []Record{
		{"id": "v1", "title": "hello", "views": 12.0, "ratio": 0.5, "public": true, "deleted_at": nil},
		{"id": "v2", "tags": []any{"a", 1.0}, "meta": map[string]any{"w": 1920.0, "h": 1080.0}},
	}
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			data := must(codec.Marshal(rows))
			var back []Record
			ensure(codec.Unmarshal(data, &back))
			for i := range back {
				back[i] = must(normalizeRecord(back[i]))
			}
			deepEqual(t, back, rows)
		})
	}
}

func TestCodec_session(t *testing.T) {
	sess := &Session{
		AccessToken: "tok",
		TokenType:   "bearer",
		ExpiresAt:   1704070800,
		User:        *DefaultDemoUser(),
	}
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			var back Session
			ensure(codec.Unmarshal(must(codec.Marshal(sess)), &back))
			deepEqual(t, &back, sess)
		})
	}
}

// Persisted content after reopening equals what was written, for both codecs.
func TestDB_persistsAcrossReopen(t *testing.T) {
	for _, codec := range []Codec{JSON, Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			opt := testOptions()
			opt.Codec = codec
			db := setupWith(t, opt)

			q := db.From("videos")
			must(q.Insert(
				Record{"title": "a", "views": 3, "tags": []string{"x", "y"}},
				Record{"title": "b", "views": 1.5, "public": false},
			))
			must(q.Eq("title", "b").Update(Record{"views": 7}))
			before := must(q.Fetch())

			db = reopen(t, db, opt)
			after := must(db.From("videos").Fetch())
			deepEqual(t, after, before)
			deepEqual(t, after.Data[0]["tags"], any([]any{"x", "y"}))
			deepEqual(t, after.Data[1]["views"], any(7.0))
		})
	}
}

func TestDB_keyPrefix(t *testing.T) {
	opt := testOptions()
	opt.KeyPrefix = "app_"
	db := setupWith(t, opt)
	must(db.From("videos").Insert(Record{"title": "a"}))

	ensure(db.Read(func(tx *Tx) error {
		if tx.rawValue("app_videos") == nil {
			t.Errorf("no value under app_videos")
		}
		if tx.rawValue(DefaultKeyPrefix+"videos") != nil {
			t.Errorf("value stored under the default prefix")
		}
		return nil
	}))
	deepEqual(t, db.KeyPrefix(), "app_")
}
