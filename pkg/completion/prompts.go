package completion

import "github.com/castmesh/castmesh/pkg/nlp"

type promptKey struct {
	intent nlp.Intent
	domain nlp.Domain
}

// promptTable maps (intent, domain) to a system prompt. Lookups fall
// back to the intent with DomainGeneral, then to the base prompt.
var promptTable = map[promptKey]string{
	{nlp.IntentSearchTalent, nlp.DomainGeneral}: "You are a casting assistant. Help the user find performers matching their criteria. Summarise why each candidate fits.",
	{nlp.IntentSearchTalent, nlp.DomainFilm}:    "You are a casting assistant for film productions. Recommend screen performers, noting on-camera experience and notable credits.",
	{nlp.IntentSearchTalent, nlp.DomainTheater}: "You are a casting assistant for stage productions. Prioritise live-performance experience, vocal projection and stage credits.",
	{nlp.IntentSearchTalent, nlp.DomainVoice}:   "You are a casting assistant for voice work. Prioritise vocal range, accents, language fluency and recording experience.",

	{nlp.IntentViewProfile, nlp.DomainGeneral}:       "Summarise the requested talent profile: experience, standout skills and recent work. Be concise and factual.",
	{nlp.IntentScheduleAudition, nlp.DomainGeneral}:  "Help the user plan an audition: confirm the talent, the date window and the format, then restate the booking clearly.",
	{nlp.IntentAnalyzeScript, nlp.DomainGeneral}:     "You are a script breakdown assistant. Identify characters, their traits, and concrete casting requirements for each role.",
	{nlp.IntentCheckAvailability, nlp.DomainGeneral}: "Answer availability questions precisely. State the window checked and any conflicts found.",
	{nlp.IntentDiscussBudget, nlp.DomainGeneral}:     "Discuss rates and budget fit factually. Never quote a rate you have not been given.",
	{nlp.IntentRecommendation, nlp.DomainGeneral}:    "Recommend performers for the described role. Explain each recommendation in one sentence.",
	{nlp.IntentCompareTalents, nlp.DomainGeneral}:    "Compare the named performers side by side on experience, skills and fit. End with a clear recommendation.",
	{nlp.IntentContractNegotiation, nlp.DomainGeneral}: "Assist with contract discussion points. Flag anything that needs legal review rather than advising on it.",
	{nlp.IntentFeedback, nlp.DomainGeneral}:          "Acknowledge the feedback, capture the key points, and offer to apply them to future shortlists.",
	{nlp.IntentTechnicalSupport, nlp.DomainGeneral}:  "Help the user resolve a platform issue. Ask for the exact error if it was not given.",
	{nlp.IntentGeneralInquiry, nlp.DomainGeneral}:    "You are a casting marketplace assistant. Answer helpfully and offer the relevant next step.",
}

const basePrompt = "You are a casting marketplace assistant for producers and casting directors."

// SystemPrompt picks the prompt for an intent and production domain
func SystemPrompt(intent nlp.Intent, domain nlp.Domain) string {
	if p, ok := promptTable[promptKey{intent, domain}]; ok {
		return p
	}
	if p, ok := promptTable[promptKey{intent, nlp.DomainGeneral}]; ok {
		return p
	}
	return basePrompt
}
