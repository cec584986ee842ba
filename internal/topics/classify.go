package topics

import (
	"strings"

	"github.com/scrypster/farmmemory/pkg/types"
)

// memoryTypeRule selects a MemoryType when any keyword appears as a whole
// word (or phrase) in the text. Rules are evaluated in order.
type memoryTypeRule struct {
	memoryType types.MemoryType
	keywords   []string
}

var memoryTypeRules = []memoryTypeRule{
	{types.MemoryTypeQuestion, []string{
		"question", "how", "what", "when", "where", "why", "which", "who",
		"can i", "should i",
	}},
	{types.MemoryTypeProblemSolving, []string{
		"problem", "problems", "issue", "trouble", "help", "spot", "spots",
		"disease", "diseased", "pest", "pests", "sick", "dying", "wilting",
		"yellow", "yellowing", "rot", "rotting", "clr", "cbd", "infested",
		"infestation", "damage", "damaged", "fungus",
	}},
	{types.MemoryTypePositiveFeedback, []string{
		"thanks", "thank", "helpful", "great", "appreciate", "worked",
	}},
	{types.MemoryTypeMarketInquiry, []string{
		"price", "prices", "sell", "selling", "buy", "buyer", "buyers",
		"market", "cooperative", "auction",
	}},
	{types.MemoryTypeFarmingActivity, []string{
		"plant", "planted", "planting", "grow", "growing", "harvest",
		"harvested", "harvesting", "fertilize", "fertilizer", "prune",
		"pruning", "spray", "spraying", "weed", "weeding",
	}},
}

// ClassifyMemoryType assigns a single MemoryType using ordered whole-word
// keyword rules. Punctuation is ignored, so a trailing question mark alone
// does not make a message a question.
func ClassifyMemoryType(text string) types.MemoryType {
	doc := newDocument(text)
	for _, rule := range memoryTypeRules {
		for _, kw := range rule.keywords {
			if doc.hasWord(kw) {
				return rule.memoryType
			}
		}
	}
	return types.MemoryTypeGeneralConversation
}

var (
	varietyKeywords = []string{"sl28", "sl34", "ruiru 11", "batian", "k7"}
	regionKeywords  = []string{"nyeri", "kiambu", "muranga", "murang'a", "kirinyaga", "embu", "meru"}
	timeKeywords    = []string{"today", "yesterday", "week", "month", "season", "harvest time"}
)

// ExtractEntities returns "category:value" tags for the coffee varieties,
// counties and time references found in text, in list order.
func ExtractEntities(text string) []string {
	doc := newDocument(text)
	groups := []struct {
		category string
		keywords []string
	}{
		{"variety", varietyKeywords},
		{"location", regionKeywords},
		{"time", timeKeywords},
	}

	var out []string
	for _, g := range groups {
		for _, kw := range g.keywords {
			if doc.contains(kw) {
				out = append(out, g.category+":"+kw)
			}
		}
	}
	return out
}

var (
	cropKeywords     = []string{"coffee", "maize", "beans", "tomatoes"}
	activityKeywords = []string{"planting", "harvesting", "pruning", "fertilizing", "spraying"}
	seasonKeywords   = []string{"long rains", "short rains", "dry season", "harvest time", "season"}
	problemKeywords  = []string{"disease", "pest", "drought", "rain", "problem"}
)

// ExtractFarmingContext pulls the crops, activity, season and problem flag
// mentioned in text.
func ExtractFarmingContext(text string) types.FarmingContext {
	doc := newDocument(text)

	fc := types.FarmingContext{CropsMentioned: []string{}}
	for _, crop := range cropKeywords {
		if doc.contains(crop) {
			fc.CropsMentioned = append(fc.CropsMentioned, crop)
		}
	}
	fc.ActivityType = firstMatch(doc, activityKeywords)
	fc.SeasonReference = firstMatch(doc, seasonKeywords)
	fc.ProblemMentioned = firstMatch(doc, problemKeywords) != ""
	return fc
}

func firstMatch(doc document, kws []string) string {
	for _, kw := range kws {
		if strings.Contains(doc.lower, kw) {
			return kw
		}
	}
	return ""
}
