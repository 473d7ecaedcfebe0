package db

import (
	"os"

	"gorm.io/gorm"

	"lumen-build/internal/logging"
	"lumen-build/internal/prompts"
	"lumen-build/pkg/models"
)

// defaultInstructions are installed once into an empty prompt table so a new
// deployment can run before operators tune the stage instructions. The
// resolver itself never falls back: a stage deleted later fails hard.
var defaultInstructions = map[string]string{
	prompts.StageClassify: `You classify a user's message for an application builder. Respond with JSON only: {"intent":"chat|build|repair|cloud_setup","response":"<reply when intent is chat>","language":"<BCP 47 tag of the user's language>"}. Use "build" for any request to create or change an app, "repair" when the user reports something broken, "cloud_setup" when the request needs accounts, billing or external cloud services, and "chat" otherwise.`,

	prompts.StageDesign: `You are an application designer. From the user's request produce JSON only: {"app_name":"...","summary":"...","theme":"...","navigation":["..."],"pages":[{"name":"...","description":"..."}]}. Design a small, coherent single-page web application.`,

	prompts.StageRequirements: `Decide whether the designed application needs a server-side backend (persistent shared data, authentication, payments, external APIs with secrets). Respond with JSON only: {"needs_backend":true|false,"reason":"..."}. Prefer false when local storage suffices.`,

	prompts.StagePhasePlan: `Break the design into 2 to 4 ordered build phases. Respond with JSON only: {"phases":[{"title":"...","description":"...","kind":"skeleton|ui|logic|backend"}]}. The first phase must produce a runnable skeleton.`,

	prompts.StageStepPlan: `Plan the file-level steps for one build phase. Respond with JSON only: {"steps":[{"path":"...","task":"...","dependencies":["..."]}]}. Every dependency must be a file that already exists. Keep steps small, one file each.`,

	prompts.StageBuildStep: `You write production-quality code for one build step. Respond with JSON only: {"changes":[{"action":"create|update","path":"...","content":"...","is_entry":true|false}],"explanation":"..."}. Emit complete file contents, never fragments. Mark the application's bootstrap file with is_entry.`,

	prompts.StageRepair: `You fix a broken generated application. You get the problem description and the project files. Respond with JSON only: {"patches":[{"path":"...","content":"..."}],"explanation":"..."}. Each patch is the complete corrected file.`,

	prompts.StageTitle: `Name this application. Respond with JSON only: {"title":"..."}. At most four words, no quotes inside the value.`,
}

// SeedPrompts installs the default stage instructions for any stage that has
// no row yet. Existing rows are never touched.
func (d *Database) SeedPrompts() error {
	for stage, instruction := range defaultInstructions {
		tpl := models.PromptTemplate{StageKey: stage}
		err := d.DB.Where("stage_key = ?", stage).
			Attrs(models.PromptTemplate{Instruction: instruction}).
			FirstOrCreate(&tpl).Error
		if err != nil {
			return err
		}
	}
	logging.S().Infow("prompt templates seeded", "stages", len(defaultInstructions))
	return nil
}

// SeedAdmin creates the bootstrap admin user from ADMIN_USERNAME and
// ADMIN_EMAIL. No-op when the variables are unset or the user exists.
func (d *Database) SeedAdmin() error {
	username := os.Getenv("ADMIN_USERNAME")
	email := os.Getenv("ADMIN_EMAIL")
	if username == "" || email == "" {
		return nil
	}

	var existing models.User
	err := d.DB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	user := models.User{Username: username, Email: email, IsActive: true}
	if err := d.DB.Create(&user).Error; err != nil {
		return err
	}
	logging.S().Infow("admin user created", "username", username)
	return nil
}
