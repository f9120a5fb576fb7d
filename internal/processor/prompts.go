package processor

import (
	"fmt"
	"strings"
	"time"

	"scholar-ai-go/internal/types"
)

// profileSchema 抽取调用的响应 schema，与 types.Profile 字段一一对应
var profileSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name": map[string]any{"type": "string", "description": "The user's full name."},
		"education": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"institution":  map[string]any{"type": "string"},
					"degree":       map[string]any{"type": "string"},
					"fieldOfStudy": map[string]any{"type": "string"},
					"gpa":          map[string]any{"type": "number"},
				},
				"required": []string{"institution", "degree", "fieldOfStudy"},
			},
		},
		"experience": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"company":     map[string]any{"type": "string"},
					"role":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"company", "role"},
			},
		},
		"skills":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"languages": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"goals":     map[string]any{"type": "string", "description": "A summary of the user's academic and career goals."},
		"financialSituation": map[string]any{
			"type": "string",
			"enum": financialNeedValues(),
		},
		"studyInterests": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"name", "education", "goals", "skills"},
}

// actionPlanSchema 计划生成调用的响应 schema
var actionPlanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"items": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":            map[string]any{"type": "string"},
					"scholarshipId": map[string]any{"type": "string"},
					"task":          map[string]any{"type": "string"},
					"week":          map[string]any{"type": "integer", "minimum": 1},
					"completed":     map[string]any{"type": "boolean"},
				},
				"required": []string{"id", "scholarshipId", "task", "week", "completed"},
			},
		},
	},
	"required": []string{"items"},
}

func financialNeedValues() []string {
	out := make([]string, 0, len(types.FinancialNeeds))
	for _, n := range types.FinancialNeeds {
		out = append(out, string(n))
	}
	return out
}

const extractionSystemPrompt = `You extract structured profile data for a scholarship assistant. Ensure the output strictly follows the provided JSON schema. If a piece of information (like GPA) is not present, omit the field instead of inventing it. For the 'financialSituation' field, make a reasonable guess from the content or use '` + string(types.DefaultFinancialNeed) + `' if nothing indicates it. Return the profile as a single JSON object.`

func buildExtractionPrompt(kind types.InputKind) string {
	switch kind {
	case types.InputAudio:
		return "Listen to the attached audio. The user is describing their professional and academic profile. Extract the information into a JSON object matching the schema. Be precise."
	case types.InputDocument:
		return "Analyze the attached resume/CV document and extract the user's profile information."
	}
	return "Analyze the following resume/CV text and extract the user's profile information."
}

func buildTextExtractionPrompt(text string) string {
	return buildExtractionPrompt(types.InputText) + "\n\nResume Text:\n---\n" + text + "\n---"
}

const discoverySchemaDescription = `[
  {
    "id": "string",
    "name": "string",
    "organization": "string",
    "amount": "number",
    "deadline": "YYYY-MM-DD or \"unknown\"",
    "description": "string",
    "eligibility": ["string"],
    "continent": "string",
    "fieldOfStudy": "string",
    "url": "string",
    "matchScore": "string",
    "matchReason": "string",
    "effortScore": "Low | Medium | High"
  }
]`

func buildDiscoveryPrompt(p *types.Profile, maxResults int) string {
	labels := make([]string, 0, len(types.MatchQualities))
	for _, q := range types.MatchQualities {
		labels = append(labels, "'"+string(q)+"'")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Using web search, find up to %d real and currently available scholarships that are a strong match for the following user profile. Prioritize diversity in opportunities, including well-known and niche scholarships.\n\n", maxResults)
	sb.WriteString("CRITICAL INSTRUCTIONS:\n")
	sb.WriteString("1. You MUST provide the direct, valid and publicly accessible URL for each scholarship's application or information page. Do not use placeholder URLs like '#' or example.com.\n")
	fmt.Fprintf(&sb, "2. For the 'matchScore' field, use one of the following labels based on how well the profile aligns with the eligibility criteria: %s. Do not use numbers.\n", strings.Join(labels, ", "))
	sb.WriteString("3. Every 'id' must be unique within the list.\n")
	sb.WriteString("4. Your response MUST be ONLY a single valid JSON array of scholarship objects with the structure below. Do not include any text, explanation or markdown before or after the array.\n\n")
	sb.WriteString("JSON Structure:\n")
	sb.WriteString(discoverySchemaDescription)
	sb.WriteString("\n\n")
	sb.WriteString(describeProfile(p, true))
	return sb.String()
}

func buildSummaryPrompt(p *types.Profile) string {
	var sb strings.Builder
	sb.WriteString("Summarize this user's profile in a concise and encouraging paragraph, highlighting their strengths for scholarship applications. The summary should be 1-2 sentences.\n\n")
	sb.WriteString("Profile:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", p.Name)
	fmt.Fprintf(&sb, "- Education: %s\n", describeEducation(p.Education))
	fmt.Fprintf(&sb, "- Goals: %s\n", p.Goals)
	fmt.Fprintf(&sb, "- Skills: %s\n", strings.Join(p.Skills, ", "))
	return sb.String()
}

func buildFeedbackPrompt(p *types.Profile, opps []types.Opportunity) string {
	var sb strings.Builder
	sb.WriteString("You are an expert academic advisor. Based on the user's profile and the list of scholarships found for them, provide 2-3 actionable, personalized recommendations for how they can strengthen their profile to unlock even more scholarship opportunities. Be encouraging and specific. The response should be a concise paragraph.\n\n")
	sb.WriteString("User Profile:\n")
	fmt.Fprintf(&sb, "- Goals: %s\n", p.Goals)
	fmt.Fprintf(&sb, "- Skills: %s\n", strings.Join(p.Skills, ", "))
	fmt.Fprintf(&sb, "- Study Interests: %s\n", strings.Join(p.StudyInterests, ", "))
	roles := make([]string, 0, len(p.Experience))
	for _, e := range p.Experience {
		roles = append(roles, e.Role)
	}
	fmt.Fprintf(&sb, "- Experience: %s\n\n", strings.Join(roles, ", "))
	sb.WriteString("Found Scholarships Sample:\n")
	for _, o := range opps {
		fmt.Fprintf(&sb, "- %s (Eligibility: %s)\n", o.Name, strings.Join(o.Eligibility, ", "))
	}
	return sb.String()
}

func buildActionPlanPrompt(opps []types.Opportunity, today time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert academic advisor. Based on the following scholarships the user is interested in, create a week-by-week action plan to help them apply successfully. Today's date is %s.\n\n", today.Format(time.DateOnly))
	sb.WriteString("CRITICAL INSTRUCTIONS:\n")
	sb.WriteString("1. For each scholarship, create 2-4 essential tasks (draft essay, gather supporting materials such as recommendation letters, finalize application, submit).\n")
	sb.WriteString("2. Week 1 is the upcoming week. Work backward from each deadline: submission goes in the final week before the deadline and earlier tasks come in strictly earlier weeks.\n")
	sb.WriteString("3. Scholarships with an unknown deadline start at week 1.\n")
	sb.WriteString("4. Every 'task' MUST include the name of the scholarship and every 'scholarshipId' MUST be one of the IDs below.\n")
	sb.WriteString("5. 'completed' is always false.\n\n")
	sb.WriteString("Return a JSON object {\"items\": [...]} matching the schema.\n\n")
	sb.WriteString("User's Selected Scholarships:\n")
	for _, o := range opps {
		fmt.Fprintf(&sb, "- ID: %s, Name: %s, Deadline: %s\n", o.ID, o.Name, o.Deadline)
	}
	return sb.String()
}

// describeProfile 把档案全部字段展开为提示词片段
func describeProfile(p *types.Profile, withName bool) string {
	var sb strings.Builder
	sb.WriteString("User Profile:\n")
	if withName {
		fmt.Fprintf(&sb, "- Name: %s\n", p.Name)
	}
	fmt.Fprintf(&sb, "- Education: %s\n", describeEducation(p.Education))
	exp := make([]string, 0, len(p.Experience))
	for _, e := range p.Experience {
		exp = append(exp, fmt.Sprintf("%s at %s", e.Role, e.Company))
	}
	fmt.Fprintf(&sb, "- Experience: %s\n", strings.Join(exp, ", "))
	fmt.Fprintf(&sb, "- Skills: %s\n", strings.Join(p.Skills, ", "))
	fmt.Fprintf(&sb, "- Languages: %s\n", strings.Join(p.Languages, ", "))
	fmt.Fprintf(&sb, "- Goals: %s\n", p.Goals)
	fmt.Fprintf(&sb, "- Financial Situation: %s\n", p.FinancialSituation)
	fmt.Fprintf(&sb, "- Study Interests: %s\n", strings.Join(p.StudyInterests, ", "))
	return sb.String()
}

func describeEducation(edu []types.Education) string {
	parts := make([]string, 0, len(edu))
	for _, e := range edu {
		s := fmt.Sprintf("%s in %s from %s", e.Degree, e.FieldOfStudy, e.Institution)
		if e.GPA > 0 {
			s += fmt.Sprintf(" (GPA: %g)", e.GPA)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
