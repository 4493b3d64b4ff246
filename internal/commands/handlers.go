package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/verbalis/verbalis/internal/news"
	"github.com/verbalis/verbalis/internal/weather"
)

func (p *Processor) getWeather(ctx context.Context, _ string, params Params) *Result {
	location := params.String("location", weather.DefaultLocation)

	report, err := p.weather.Current(ctx, location)
	if err != nil {
		p.logger.Error("weather lookup failed", "location", location, "error", err)
		return failure(KindProvider, err.Error(),
			fmt.Sprintf("Sorry, I couldn't get the weather for %s right now. Please try again later.", location))
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"location":    report.Location,
			"temperature": report.Temperature,
			"feels_like":  report.FeelsLike,
			"condition":   report.Condition,
			"humidity":    report.Humidity,
			"wind_speed":  report.WindSpeed,
			"demo_mode":   report.Demo,
		},
		UserMessage: report.Summary(),
	}
}

func (p *Processor) getNews(ctx context.Context, _ string, params Params) *Result {
	category := params.String("category", news.DefaultCategory)

	digest, err := p.news.TopHeadlines(ctx, category)
	if err != nil {
		p.logger.Error("news lookup failed", "category", category, "error", err)
		return failure(KindProvider, err.Error(),
			fmt.Sprintf("Sorry, I couldn't get the latest %s news right now. Please try again later.", category))
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"category":      digest.Category,
			"headlines":     digest.Headlines,
			"total_results": digest.Total,
			"demo_mode":     digest.Demo,
		},
		UserMessage: digest.Summary(),
	}
}

func (p *Processor) webSearch(_ context.Context, _ string, params Params) *Result {
	query := params.String("query", "")

	return &Result{
		Success: true,
		Data: map[string]any{
			"query": query,
			"results": []string{
				fmt.Sprintf("Search result 1 for '%s'", query),
				fmt.Sprintf("Search result 2 for '%s'", query),
				fmt.Sprintf("Search result 3 for '%s'", query),
			},
		},
		UserMessage: fmt.Sprintf("Here are search results for '%s': (Demo mode - integrate with search API for real results)", query),
	}
}

var translations = map[string]map[string]string{
	"hello":     {"Spanish": "Hola", "French": "Bonjour", "German": "Hallo"},
	"goodbye":   {"Spanish": "Adiós", "French": "Au revoir", "German": "Auf Wiedersehen"},
	"thank you": {"Spanish": "Gracias", "French": "Merci", "German": "Danke"},
}

func (p *Processor) translateText(_ context.Context, _ string, params Params) *Result {
	text := params.String("text", "")
	language := params.String("language", "Spanish")

	translated := ""
	if entry, ok := translations[strings.ToLower(text)]; ok {
		translated = entry[language]
	}
	if translated == "" {
		translated = fmt.Sprintf("[%s in %s]", text, language)
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"original_text":   text,
			"translated_text": translated,
			"target_language": language,
		},
		UserMessage: fmt.Sprintf("'%s' in %s is '%s' (Demo mode - integrate with translation API for real translations)", text, language, translated),
	}
}

var facts = []string{
	"The human brain has about 86 billion neurons.",
	"Honey never spoils. Archaeologists have found pots of honey in ancient Egyptian tombs that are over 3,000 years old and still perfectly edible.",
	"A group of flamingos is called a 'flamboyance'.",
	"The shortest war in history was between Britain and Zanzibar on August 27, 1896. Zanzibar surrendered after 38 minutes.",
	"Octopuses have three hearts and blue blood.",
	"The first computer bug was an actual bug - a moth found trapped in a Harvard computer in 1947.",
}

func (p *Processor) randomFact(_ context.Context, _ string, _ Params) *Result {
	fact := facts[p.pick(len(facts))]
	return &Result{
		Success:     true,
		Data:        map[string]any{"fact": fact},
		UserMessage: "Here's an interesting fact: " + fact,
	}
}

var jokes = []string{
	"Why don't scientists trust atoms? Because they make up everything!",
	"Why did the scarecrow win an award? He was outstanding in his field!",
	"Why don't eggs tell jokes? They'd crack each other up!",
	"What do you call a fake noodle? An impasta!",
	"Why did the math book look so sad? Because it had too many problems!",
	"What do you call a bear with no teeth? A gummy bear!",
}

func (p *Processor) randomJoke(_ context.Context, _ string, _ Params) *Result {
	joke := jokes[p.pick(len(jokes))]
	return &Result{
		Success:     true,
		Data:        map[string]any{"joke": joke},
		UserMessage: joke,
	}
}

func (p *Processor) calculate(_ context.Context, _ string, params Params) *Result {
	expression := params.String("expression", "")

	for _, c := range expression {
		if !strings.ContainsRune("0123456789+-*/().= ", c) {
			return failure(KindValidation, "invalid characters in expression",
				fmt.Sprintf("Sorry, I couldn't calculate '%s'. Please check the expression and try again.", expression))
		}
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(expression, "=", ""))

	value, err := evalExpression(cleaned)
	if err != nil {
		p.logger.Error("calculation error", "expression", cleaned, "error", err)
		return failure(KindValidation, err.Error(),
			fmt.Sprintf("Sorry, I couldn't calculate '%s'. Please check the expression and try again.", expression))
	}

	return &Result{
		Success: true,
		Data: map[string]any{
			"expression": cleaned,
			"result":     value,
		},
		UserMessage: fmt.Sprintf("%s equals %s", cleaned, formatNumber(value)),
	}
}
