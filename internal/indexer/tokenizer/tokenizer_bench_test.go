package tokenizer

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"title": "The Left Hand of Darkness",
	"description": `Genly Ai is sent to the icebound planet of Winter to persuade its
        nations to join a growing intergalactic civilization. His mission is
        complicated by the Gethenians themselves, who can choose their gender,
        and by a political intrigue that sends him fleeing across the ice.`,
	"long": strings.Repeat(`A sweeping family saga set across three generations of
        booksellers, following the shop through wars, floods and the slow arrival
        of the paperback. Each chapter is narrated by a different reader who
        borrowed the same battered copy. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["description"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = Tokenize(text)
		}
	})
}

func BenchmarkNormalize(b *testing.B) {
	words := []string{
		"dragons", "detectives", "haunting", "borrowed",
		"civilization", "librarians", "mysteries",
		"wandering", "kingdoms", "starships",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_, _ = Normalize(w)
		}
	}
}

func BenchmarkTermsVaryingSize(b *testing.B) {
	baseWord := "dragon castle winter mystery garden "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Terms(text)
			}
		})
	}
}
