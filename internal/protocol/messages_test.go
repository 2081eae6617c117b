package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"client_audio","session_id":"s1","audio_base64":"AQID","format":"PCM16","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 || audio.Format != FormatPCM16 {
		t.Fatalf("unexpected audio message: %+v", audio)
	}
	data, err := audio.Audio()
	if err != nil {
		t.Fatalf("Audio() error = %v", err)
	}
	if len(data) != 3 || data[0] != 1 || data[2] != 3 {
		t.Fatalf("Audio() = %v, want [1 2 3]", data)
	}
}

func TestParseClientMessageAudioDefaultsToWAV(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_audio","session_id":"s1","audio_base64":"AQID"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := msg.(ClientAudio).Format; got != FormatWAV {
		t.Fatalf("Format = %q, want %q", got, FormatWAV)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_text","session_id":"s1","text":"오늘 산책했어요"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	text, ok := msg.(ClientText)
	if !ok {
		t.Fatalf("message type = %T, want ClientText", msg)
	}
	if text.Text != "오늘 산책했어요" {
		t.Fatalf("Text = %q", text.Text)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"end","reason":"user_hangup","ts_ms":456}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionEnd {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if control.TSMs != 456 {
		t.Fatalf("TSMs = %d, want %d", control.TSMs, 456)
	}
	if control.Reason != "user_hangup" {
		t.Fatalf("Reason = %q, want %q", control.Reason, "user_hangup")
	}
}

func TestParseClientMessageRejectsInvalidAudio(t *testing.T) {
	cases := []string{
		`{"type":"client_audio","session_id":"","audio_base64":"AQID"}`,
		`{"type":"client_audio","session_id":"s1","audio_base64":""}`,
		`{"type":"client_audio","session_id":"s1","audio_base64":"AQID","format":"pcm16"}`,
		`{"type":"client_audio","session_id":"s1","audio_base64":"AQID","format":"mp3"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}

func BenchmarkParseClientMessageAudio(b *testing.B) {
	raw := []byte(`{"type":"client_audio","session_id":"s1","audio_base64":"AQIDBAUGBwgJCgsMDQ4P","format":"pcm16","sample_rate":16000,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudio); !ok {
			b.Fatalf("message type = %T, want ClientAudio", msg)
		}
	}
}
