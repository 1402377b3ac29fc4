package intent

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		want    Intent
		payload string
	}{
		{"plain chat", "как дела?", Chat, "как дела?"},
		{"web search with topic", "найди информацию о Пушкине", WebSearch, "о Пушкине"},
		{"web search short form", "поищи лучшие рестораны", WebSearch, "лучшие рестораны"},
		{"web search english", "search for go generics", WebSearch, "go generics"},
		{"image generation", "нарисуй кота", ImageGeneration, "кота"},
		{"image generation english", "draw a red bicycle", ImageGeneration, "a red bicycle"},
		{"image generation full phrase", "сгенерируй изображение заката", ImageGeneration, "заката"},
		{"keyword only falls back to whole text", "нарисуй", ImageGeneration, "нарисуй"},
		{"keyword inside word is not a match", "найдите мне книгу", Chat, "найдите мне книгу"},
		{"keyword mid-sentence is not a match", "я просил найди меня", Chat, "я просил найди меня"},
		{"leading whitespace", "  погугли курс доллара", WebSearch, "курс доллара"},
		{"empty", "", Chat, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, payload := Detect(tc.text)
			if got != tc.want {
				t.Fatalf("Detect(%q) intent = %v, want %v", tc.text, got, tc.want)
			}
			if payload != tc.payload {
				t.Fatalf("Detect(%q) payload = %q, want %q", tc.text, payload, tc.payload)
			}
		})
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		got, payload := Detect("найди информацию о Пушкине")
		if got != WebSearch || payload != "о Пушкине" {
			t.Fatalf("iteration %d: got (%v, %q)", i, got, payload)
		}
	}
}

func TestIntentString(t *testing.T) {
	if Chat.String() != "chat" || WebSearch.String() != "web_search" || ImageGeneration.String() != "image_generation" {
		t.Fatalf("unexpected intent names: %v %v %v", Chat, WebSearch, ImageGeneration)
	}
}
